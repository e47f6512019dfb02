// Package storage opens the configured audit.Store backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"auditlog/internal/platform/config"
	platformredis "auditlog/internal/platform/redis"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/store/memory"
	"auditlog/pkg/platform/audit/store/postgres"
	redisstore "auditlog/pkg/platform/audit/store/redis"
	"auditlog/pkg/platform/audit/store/sqlite"
)

// Backend is an opened store plus the resources behind it.
type Backend struct {
	Store audit.Store
	// Checks holds per-dependency health probes, keyed by name.
	Checks map[string]func(context.Context) error

	closers []func() error
}

// Close releases every resource the backend opened.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// Open connects to the backend named in cfg.Store.Backend and ensures its
// schema exists.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	b := &Backend{Checks: make(map[string]func(context.Context) error)}

	switch cfg.Store.Backend {
	case config.StoreMemory:
		b.Store = memory.NewInMemoryStore()

	case config.StorePostgres:
		db, err := sql.Open("pgx", cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := postgres.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Store = store
		b.Checks["postgres"] = db.PingContext

	case config.StoreRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.Store = redisstore.New(client.Client, redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix))
		b.Checks["redis"] = client.Health

	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		b.Store = store
		b.Checks["sqlite"] = store.DB().PingContext

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return b, nil
}
