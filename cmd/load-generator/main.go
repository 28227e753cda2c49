package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/rental-ledger-go/config"
	"github.com/AntonStoeckl/rental-ledger-go/internal/bootstrap"
)

const (
	defaultBooks       = 20
	defaultStock       = 3
	defaultUsers       = 100
	defaultWorkers     = 8
	defaultDuration    = 30 * time.Second
	defaultReturnRatio = 0.4
)

type Config struct {
	ConfigPath   string
	Store        string
	DSN          string
	Adapter      string
	SQLitePath   string
	OTLPEndpoint string
	Books        int
	Stock        int
	Users        int
	Workers      int
	Duration     time.Duration
	ReturnRatio  float64
}

func main() {
	cfg := parseFlags()

	ledgerCfg, err := cfg.ledgerConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, ledgerCfg, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer rt.Close()

	if err := rt.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to store: %v", err)
	}

	if err := rt.Migrate(ctx); err != nil && !errors.Is(err, bootstrap.ErrMigrationNotSupported) {
		log.Fatalf("Failed to migrate store: %v", err)
	}

	cfg.Store = ledgerCfg.Store
	loadGen := NewLoadGenerator(rt.Engine, cfg, rt.Logger)

	if err := loadGen.Seed(ctx); err != nil {
		log.Fatalf("Failed to seed books: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	log.Printf("Load generator started: store=%s workers=%d books=%d stock=%d duration=%s",
		cfg.Store, cfg.Workers, cfg.Books, cfg.Stock, cfg.Duration)
	log.Printf("Press Ctrl+C to stop...")

	loadGen.Start(runCtx)

	reportCtx, reportCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer reportCancel()

	report, err := loadGen.Report(reportCtx)
	if err != nil {
		log.Fatalf("Failed to build report: %v", err)
	}

	encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	if !report.Consistent {
		log.Printf("Stock check failed: stock plus open rentals differs from the initial stock")
		rt.Close()
		os.Exit(1)
	}
}

func parseFlags() Config {
	var cfg Config

	flag.StringVar(&cfg.ConfigPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&cfg.Store, "store", "", "Store backend: memory, sqlite or postgres")
	flag.StringVar(&cfg.DSN, "dsn", "", "PostgreSQL DSN")
	flag.StringVar(&cfg.Adapter, "adapter", "", "PostgreSQL adapter: pgx.pool, sql.db or sqlx.db")
	flag.StringVar(&cfg.SQLitePath, "sqlite-path", "", "SQLite database file")
	flag.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces and metrics")
	flag.IntVar(&cfg.Books, "books", defaultBooks, "Number of books to seed")
	flag.IntVar(&cfg.Stock, "stock", defaultStock, "Initial stock of every seeded book")
	flag.IntVar(&cfg.Users, "users", defaultUsers, "Number of distinct users")
	flag.IntVar(&cfg.Workers, "workers", defaultWorkers, "Number of concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", defaultDuration, "How long to generate load")
	flag.Float64Var(&cfg.ReturnRatio, "return-ratio", defaultReturnRatio, "Share of operations that are returns")

	flag.Parse()

	if err := cfg.validate(); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	return cfg
}

func (c Config) validate() error {
	switch {
	case c.Books < 1:
		return fmt.Errorf("%w: books must be at least 1", errInvalidFlag)
	case c.Stock < 0:
		return fmt.Errorf("%w: stock must not be negative", errInvalidFlag)
	case c.Users < 1:
		return fmt.Errorf("%w: users must be at least 1", errInvalidFlag)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1", errInvalidFlag)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", errInvalidFlag)
	case c.ReturnRatio < 0 || c.ReturnRatio > 1:
		return fmt.Errorf("%w: return-ratio must be between 0 and 1", errInvalidFlag)
	}

	return nil
}

// ledgerConfig loads the configuration file and applies the flag overrides on top.
func (c Config) ledgerConfig() (config.Config, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	if c.Store != "" {
		cfg.Store = c.Store
	}

	if c.DSN != "" {
		cfg.Postgres.DSN = c.DSN
	}

	if c.Adapter != "" {
		cfg.Postgres.Adapter = c.Adapter
	}

	if c.SQLitePath != "" {
		cfg.SQLite.Path = c.SQLitePath
	}

	if c.OTLPEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = c.OTLPEndpoint
	}

	return cfg, nil
}
