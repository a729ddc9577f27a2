// Package app wires configuration into the record store and the ingest
// service. Both the HTTP server and the import CLI start through here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/ctedash/internal/config"
	"github.com/JonMunkholm/ctedash/internal/core"
	"github.com/JonMunkholm/ctedash/internal/store"
	"github.com/JonMunkholm/ctedash/internal/store/memory"
	"github.com/JonMunkholm/ctedash/internal/store/postgres"
)

// OpenStore opens the store selected by STORE_DRIVER. The returned close
// function releases its resources and is never nil.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory store, records are lost on exit")
		return memory.New(), func() {}, nil
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)
	}
	return nil, func() {}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func openPostgres(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, func() {}, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	st := postgres.New(pool, postgres.WithOpTimeout(cfg.Store.OpTimeout))
	if cfg.Database.Migrate {
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, func() {}, fmt.Errorf("migrate: %w", err)
		}
		slog.Info("schema migrated")
	}
	return st, pool.Close, nil
}

// NewService builds the ingest service from cfg. Metrics are registered
// on reg; nil keeps them private.
func NewService(st store.Store, cfg *config.Config, reg prometheus.Registerer) *core.Service {
	return core.NewService(st, cfg.IngestSettings(), core.WithRegisterer(reg))
}
