// Package app is the composition root: it opens the configured legacy
// collection and wires store, synchronizer and bridge together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"airsync/internal/airentry"
	"airsync/internal/bridge"
	"airsync/internal/config"
	"airsync/internal/legacy"
	"airsync/internal/legacy/file"
	"airsync/internal/legacy/postgres"
	"airsync/internal/legacy/sqlite"
	"airsync/internal/metrics"
	"airsync/internal/viewsync"
)

type App struct {
	Config  *config.ProjectConfig
	Schema  *config.Schema
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Store   *airentry.Store
	Sync    *viewsync.Synchronizer
	Legacy  legacy.Collection
	Bridge  *bridge.Bridge
}

// New builds every component. Nothing is migrated until Start.
func New(ctx context.Context, cfg *config.ProjectConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	schema, err := loadSchema(cfg)
	if err != nil {
		return nil, err
	}

	coll, err := OpenCollection(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	store := airentry.NewStore(
		airentry.WithLogger(logger),
		airentry.WithMetrics(m),
	)
	synchronizer := viewsync.New(store,
		viewsync.WithDebounce(cfg.Sync.Debounce),
		viewsync.WithLogger(logger),
		viewsync.WithMetrics(m),
	)
	b := bridge.New(store, coll,
		bridge.WithLogger(logger),
		bridge.WithMetrics(m),
		bridge.WithResetter(synchronizer),
	)

	return &App{
		Config:  cfg,
		Schema:  schema,
		Logger:  logger,
		Metrics: m,
		Store:   store,
		Sync:    synchronizer,
		Legacy:  coll,
		Bridge:  b,
	}, nil
}

// Start migrates the legacy collection and begins mirroring.
func (a *App) Start(ctx context.Context) (*bridge.MigrationResult, error) {
	result, err := a.Bridge.Initialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing legacy bridge: %w", err)
	}
	return result, nil
}

// Close tears down in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	a.Bridge.Close()
	a.Sync.Dispose()
	if err := a.Legacy.Close(ctx); err != nil {
		return fmt.Errorf("closing legacy collection: %w", err)
	}
	return nil
}

// OpenCollection opens the legacy backend named by cfg.Legacy.Driver.
func OpenCollection(ctx context.Context, cfg *config.ProjectConfig, logger *zap.Logger) (legacy.Collection, error) {
	switch cfg.Legacy.Driver {
	case "", "memory":
		return legacy.NewMemoryCollection(), nil
	case "sqlite":
		return sqlite.New(ctx, cfg.Legacy.DSN, sqlite.Options{
			PollInterval: cfg.Legacy.PollInterval,
			Logger:       logger,
		})
	case "postgres":
		return postgres.New(ctx, cfg.Legacy.DSN, postgres.Options{Logger: logger})
	case "file":
		return file.New(cfg.Resolve(cfg.Legacy.Path), file.Options{Logger: logger})
	default:
		return nil, fmt.Errorf("unknown legacy driver: %s", cfg.Legacy.Driver)
	}
}

// loadSchema returns nil when no schema file exists.
func loadSchema(cfg *config.ProjectConfig) (*config.Schema, error) {
	schema, err := config.LoadSchema(cfg.SchemaPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return schema, err
}
