package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/dispatch/internal/config"
	domain "github.com/ahrav/dispatch/internal/domain/dispatch"
	"github.com/ahrav/dispatch/internal/infra/storage"
	"github.com/ahrav/dispatch/internal/infra/storage/dispatch/postgres"
	"github.com/ahrav/dispatch/pkg/common/logger"
)

// openPool connects to Postgres and, when configured, applies pending
// migrations before returning.
func openPool(ctx context.Context, log *logger.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	poolCfg.MinConns = cfg.Postgres.MinConns
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach db: %w", err)
	}

	if cfg.Postgres.RunMigrations {
		if err := storage.Migrate(pool, cfg.Postgres.MigrationsSource); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info(ctx, "call report migrations applied")
	}
	return pool, nil
}

func newPostgresArchive(pool *pgxpool.Pool, tracer trace.Tracer) domain.CallReportRepository {
	return postgres.NewCallReportStore(pool, tracer)
}

func migrateArchive(ctx context.Context, cfg *config.Config) error {
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required to migrate")
	}
	cfg.Postgres.RunMigrations = true

	pool, err := openPool(ctx, newLogger(cfg), cfg)
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}

func purgeArchive(ctx context.Context, cfg *config.Config, olderThan time.Duration, out io.Writer) error {
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required to purge the archive")
	}
	if olderThan <= 0 {
		return fmt.Errorf("purge age must be positive, got %s", olderThan)
	}

	pool, err := openPool(ctx, newLogger(cfg), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	cutoff := time.Now().Add(-olderThan)
	n, err := newPostgresArchive(pool, noop.NewTracerProvider().Tracer(serviceType)).PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge archive: %w", err)
	}
	fmt.Fprintf(out, "purged %d call reports archived before %s\n", n, cutoff.UTC().Format(time.RFC3339))
	return nil
}
