package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/AntonStoeckl/rental-ledger-go/config"
	"github.com/AntonStoeckl/rental-ledger-go/ledger"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/memstore"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/oteladapters"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/postgresstore"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/retry"
	"github.com/AntonStoeckl/rental-ledger-go/ledger/sqlitestore"
)

var (
	// ErrMigrationNotSupported is returned by Migrate for the memory store.
	ErrMigrationNotSupported = errors.New("bootstrap: the memory store has no schema to migrate")

	// ErrInvalidConfig wraps configuration problems detected while opening the runtime.
	ErrInvalidConfig = errors.New("bootstrap: invalid configuration")
)

// Runtime is the store, engine and telemetry a ledger binary works with.
type Runtime struct {
	Config config.Config
	Logger *slog.Logger
	Store  ledger.Store
	Engine *engine.Engine

	migrate   func(ctx context.Context) error
	ping      func(ctx context.Context) error
	closers   []func()
	providers *config.ObservabilityProviders
}

// Open connects to the configured store and builds the engine. Logs go to logOutput at the configured level.
// extra engine options are applied after the ones derived from cfg. Callers must call Close when done.
func Open(ctx context.Context, cfg config.Config, logOutput io.Writer, extra ...engine.Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	rt := &Runtime{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: level})),
		ping:   func(context.Context) error { return nil },
	}

	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	engineOptions, err := rt.engineOptions(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	eng, err := engine.New(rt.Store, append(engineOptions, extra...)...)
	if err != nil {
		rt.Close()
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	rt.Engine = eng

	return rt, nil
}

// Migrate applies the schema of the SQL store.
func (rt *Runtime) Migrate(ctx context.Context) error {
	return rt.migrate(ctx)
}

// Ping checks that the store is reachable. It always succeeds for the memory store.
func (rt *Runtime) Ping(ctx context.Context) error {
	return rt.ping(ctx)
}

func (rt *Runtime) openStore(ctx context.Context) error {
	switch rt.Config.Store {
	case config.StoreMemory:
		rt.Store = memstore.New()
		rt.migrate = func(context.Context) error { return ErrMigrationNotSupported }

	case config.StoreSQLite:
		store, err := sqlitestore.Open(rt.Config.SQLite.Path, sqlitestore.WithLogger(rt.Logger))
		if err != nil {
			return err
		}

		rt.closers = append(rt.closers, func() { _ = store.Close() })
		rt.Store, rt.migrate, rt.ping = store, store.Migrate, store.Ping

	case config.StorePostgres:
		store, closeDB, err := openPostgres(ctx, rt.Config.Postgres, rt.Logger)
		if err != nil {
			if closeDB != nil {
				closeDB()
			}
			return err
		}

		rt.closers = append(rt.closers, closeDB)
		rt.Store, rt.migrate, rt.ping = store, store.Migrate, store.Ping

	default:
		return errors.Join(ErrInvalidConfig, fmt.Errorf("%w: %q", config.ErrUnknownStore, rt.Config.Store))
	}

	return nil
}

func openPostgres(ctx context.Context, cfg config.Postgres, logger *slog.Logger) (*postgresstore.Store, func(), error) {
	options := []postgresstore.Option{postgresstore.WithLogger(logger)}

	switch cfg.Adapter {
	case config.AdapterSQLDB:
		db, err := config.NewSQLDB(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, errors.Join(ledger.ErrStoreUnavailable, err)
		}

		store, err := postgresstore.NewFromSQLDB(db, options...)

		return store, func() { _ = db.Close() }, err

	case config.AdapterSQLX:
		db, err := config.NewSQLX(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, errors.Join(ledger.ErrStoreUnavailable, err)
		}

		store, err := postgresstore.NewFromSQLX(db, options...)

		return store, func() { _ = db.Close() }, err

	default:
		pool, err := config.NewPGXPool(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, errors.Join(ledger.ErrStoreUnavailable, err)
		}

		store, err := postgresstore.NewFromPGXPool(pool, options...)

		return store, pool.Close, err
	}
}

// engineOptions wires logging, retry and, when an OTLP endpoint is configured, the otel adapters.
func (rt *Runtime) engineOptions(ctx context.Context) ([]engine.Option, error) {
	var retryOptions []retry.Option
	if rt.Config.Retry.MaxAttempts > 0 {
		retryOptions = append(retryOptions, retry.WithMaxAttempts(rt.Config.Retry.MaxAttempts))
	}
	if rt.Config.Retry.BaseDelay > 0 {
		retryOptions = append(retryOptions, retry.WithBaseDelay(rt.Config.Retry.BaseDelay))
	}

	options := []engine.Option{
		engine.WithContextualLogger(rt.Logger),
		engine.WithRetryOptions(retryOptions...),
	}

	if rt.Config.Telemetry.OTLPEndpoint == "" {
		return options, nil
	}

	providers, err := config.NewObservabilityProviders(ctx, rt.Config.Telemetry.ServiceName, rt.Config.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	rt.providers = providers
	name := rt.Config.Telemetry.ServiceName

	return append(options,
		engine.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter(name))),
		engine.WithTracing(oteladapters.NewTracingCollector(otel.Tracer(name))),
	), nil
}

// Close shuts down telemetry and releases the database connections.
func (rt *Runtime) Close() {
	if rt.providers != nil {
		if err := rt.providers.Shutdown(context.Background()); err != nil {
			rt.Logger.Warn("telemetry shutdown failed", "error", err.Error())
		}
	}

	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
