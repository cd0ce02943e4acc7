// Package storetest provides an in-memory SQLite database for package tests.
package storetest

import (
	"context"
	"testing"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// New starts a migrated ":memory:" database that is closed on test cleanup.
func New(t *testing.T) store.Database {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	db := store.NewDatabase(log, cfg)
	require.NoError(t, db.Start(context.Background()))
	require.NoError(t, db.Migrate(context.Background()))

	t.Cleanup(func() { _ = db.Stop() })

	return db
}
