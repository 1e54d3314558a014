package main

import (
	"context"

	"airsync/internal/app"
	"airsync/internal/config"
	"airsync/internal/logging"
)

// openApp loads the project config and builds the app without migrating.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadProjectConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// startApp is openApp followed by the initial legacy migration.
func startApp(ctx context.Context) (*app.App, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := a.Start(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}
