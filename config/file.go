package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Postgres adapter types, shared with the ADAPTER_TYPE switch of the test wrapper.
const (
	AdapterPGXPool = "pgx.pool"
	AdapterSQLDB   = "sql.db"
	AdapterSQLX    = "sqlx.db"
)

// Environment overrides. They win over values from the file.
const (
	EnvStore            = "LEDGER_STORE"
	EnvPostgresAdapter  = "LEDGER_POSTGRES_ADAPTER"
	EnvSQLitePath       = "LEDGER_SQLITE_PATH"
	EnvHTTPAddr         = "LEDGER_HTTP_ADDR"
	EnvHTTPCORSOrigins  = "LEDGER_HTTP_CORS_ORIGINS"
	EnvRetryMaxAttempts = "LEDGER_RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelay   = "LEDGER_RETRY_BASE_DELAY"
	EnvLogLevel         = "LEDGER_LOG_LEVEL"
	EnvOTLPEndpoint     = "LEDGER_OTLP_ENDPOINT"
)

const metricExportInterval = 5 * time.Second

var (
	// ErrUnknownStore is returned for a store kind other than memory, postgres or sqlite.
	ErrUnknownStore = errors.New("config: unknown store")

	// ErrUnknownAdapter is returned for a Postgres adapter other than pgx.pool, sql.db or sqlx.db.
	ErrUnknownAdapter = errors.New("config: unknown postgres adapter")

	// ErrInvalidValue is returned when a value cannot be parsed.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config is the file configuration of the ledger binaries.
type Config struct {
	Store     string    `yaml:"store"`
	Postgres  Postgres  `yaml:"postgres"`
	SQLite    SQLite    `yaml:"sqlite"`
	HTTP      HTTP      `yaml:"http"`
	Retry     Retry     `yaml:"retry"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type Postgres struct {
	DSN     string `yaml:"dsn"`
	Adapter string `yaml:"adapter"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type HTTP struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Retry configures the conflict retry of the engine. Zero values keep the engine defaults.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Telemetry enables OTLP export of traces and metrics when OTLPEndpoint is set.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreMemory,
		Postgres: Postgres{
			DSN:     DefaultPostgresDSN,
			Adapter: AdapterPGXPool,
		},
		SQLite:    SQLite{Path: "ledger.db"},
		HTTP:      HTTP{Addr: ":8080"},
		Log:       Log{Level: "info"},
		Telemetry: Telemetry{ServiceName: "rental-ledger"},
	}
}

// Load reads path on top of Default and applies the environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}

		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	overrides := map[string]*string{
		EnvStore:           &c.Store,
		EnvPostgresDSN:     &c.Postgres.DSN,
		EnvPostgresAdapter: &c.Postgres.Adapter,
		EnvSQLitePath:      &c.SQLite.Path,
		EnvHTTPAddr:        &c.HTTP.Addr,
		EnvLogLevel:        &c.Log.Level,
		EnvOTLPEndpoint:    &c.Telemetry.OTLPEndpoint,
	}

	for env, target := range overrides {
		if value, ok := os.LookupEnv(env); ok && value != "" {
			*target = value
		}
	}

	if value := os.Getenv(EnvHTTPCORSOrigins); value != "" {
		c.HTTP.CORSOrigins = splitList(value)
	}

	if value := os.Getenv(EnvRetryMaxAttempts); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidValue, EnvRetryMaxAttempts, value)
		}

		c.Retry.MaxAttempts = attempts
	}

	if value := os.Getenv(EnvRetryBaseDelay); value != "" {
		delay, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidValue, EnvRetryBaseDelay, value)
		}

		c.Retry.BaseDelay = delay
	}

	return nil
}

// Validate checks the enumerations and the log level.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.Store)
	}

	switch c.Postgres.Adapter {
	case AdapterPGXPool, AdapterSQLDB, AdapterSQLX:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, c.Postgres.Adapter)
	}

	if c.Retry.MaxAttempts < 0 || c.Retry.BaseDelay < 0 {
		return fmt.Errorf("%w: retry settings must not be negative", ErrInvalidValue)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses the configured log level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidValue, c.Log.Level)
	}

	return level, nil
}

// splitList splits a comma-separated value and drops empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
