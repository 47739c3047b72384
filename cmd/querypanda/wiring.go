package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/querypanda/internal/adapter/checkpoint"
	"github.com/fairyhunter13/querypanda/internal/adapter/objectstore"
	"github.com/fairyhunter13/querypanda/internal/adapter/observability"
	"github.com/fairyhunter13/querypanda/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/querypanda/internal/config"
	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/usecase"
)

// deps holds the infrastructure one command invocation needs.
type deps struct {
	cfg      config.Config
	pool     *pgxpool.Pool
	rdb      *redis.Client
	uploader domain.Uploader
	closers  []func(context.Context) error
}

type depOptions struct {
	db          bool
	checkpoints bool
	uploads     bool
}

// openDeps connects only what the command asks for.
func openDeps(ctx context.Context, cfg config.Config, o depOptions) (*deps, error) {
	d := &deps{cfg: cfg}
	if o.db {
		pool, err := postgres.NewPool(ctx, cfg.DBURL, postgres.PoolOptions{
			MaxConns:         cfg.DBMaxConns,
			ReadOnly:         cfg.DBReadOnly,
			StatementTimeout: cfg.QueryTimeout,
		})
		if err != nil {
			return nil, err
		}
		d.pool = pool
		d.closers = append(d.closers, func(context.Context) error { pool.Close(); return nil })
	}
	if o.checkpoints && cfg.UseRedisCheckpoints() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			d.close(ctx)
			return nil, fmt.Errorf("op=main.openDeps: redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		d.rdb = rdb
		d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })
	}
	if o.uploads && cfg.ObjectStoreEnabled() {
		up, err := objectstore.New(objectstore.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			d.close(ctx)
			return nil, err
		}
		d.uploader = up
	}
	return d, nil
}

func (d *deps) close(ctx context.Context) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			slog.Warn("close failed", slog.Any("error", err))
		}
	}
	d.closers = nil
}

// checkpointStores returns a factory for the configured checkpoint backend.
func (d *deps) checkpointStores() usecase.CheckpointStoreFactory {
	if d.rdb != nil {
		return func(loc string) domain.CheckpointStore { return checkpoint.NewRedisStore(d.rdb, loc) }
	}
	return func(loc string) domain.CheckpointStore { return checkpoint.NewFileStore(loc) }
}

func (d *deps) querier() domain.Querier {
	return postgres.NewQueryRepo(d.pool)
}

func (d *deps) queryService() usecase.QueryService {
	return usecase.NewQueryService(d.querier(), d.uploader, d.cfg.QueryTimeout, d.cfg.MaxResultRows)
}

// setupObservability installs the process logger, metrics and tracing.
// The returned func flushes traces.
func setupObservability(ctx context.Context, cfg config.Config) func(context.Context) error {
	slog.SetDefault(observability.SetupLogger(cfg))
	observability.InitMetrics()
	shutdown, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	return func(ctx context.Context) error {
		if shutdown == nil {
			return nil
		}
		return shutdown(ctx)
	}
}
