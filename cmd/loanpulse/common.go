package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/ethpandaops/loanpulse/pkg/store"
)

// loadConfig loads and validates the configuration. Without --config only
// defaults and environment variables apply.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// openDatabase connects to the configured database without touching the
// schema. The caller must Stop the returned database.
func openDatabase(ctx context.Context, cfg *config.Config) (store.Database, error) {
	db := store.NewDatabase(log, &cfg.Database)

	if err := db.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting database: %w", err)
	}

	return db, nil
}

// openMigratedDatabase is openDatabase followed by schema migration, for
// the commands that write pipeline state.
func openMigratedDatabase(ctx context.Context, cfg *config.Config) (store.Database, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Stop()

		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return db, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
