package store

import (
	"context"
	"fmt"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database owns the transactional handle shared by the pipeline components.
type Database interface {
	Start(ctx context.Context) error
	Stop() error

	// Migrate creates or updates every relation the pipeline uses.
	Migrate(ctx context.Context) error

	// DB returns the underlying handle. Only valid after Start.
	DB() *gorm.DB
}

// Compile-time interface check.
var _ Database = (*database)(nil)

type database struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewDatabase creates a Database backed by the configured driver.
func NewDatabase(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Database {
	return &database{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection.
func (d *database) Start(_ context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch d.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(d.cfg.SQLite.Path)
	case "postgres":
		dialector = postgres.Open(d.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", d.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if d.cfg.Driver == "sqlite" {
		// SQLite allows one writer; a single connection also keeps
		// ":memory:" databases shared across statements.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	d.db = db

	d.log.WithField("driver", d.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (d *database) Stop() error {
	if d.db == nil {
		return nil
	}

	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Migrate runs AutoMigrate for all pipeline relations.
func (d *database) Migrate(ctx context.Context) error {
	if err := d.db.WithContext(ctx).AutoMigrate(
		&IngestionState{},
		&PipelineRun{},
		&StagingRecord{},
		&PipelineLock{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	d.log.Debug("Migrations applied")

	return nil
}

// DB returns the gorm handle.
func (d *database) DB() *gorm.DB {
	return d.db
}
