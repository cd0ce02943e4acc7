// Package lock provides the per-source single-writer guard around pipeline
// runs. Attempts never wait: a held lock fails with ErrLocked.
package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another run")

// Locker runs functions under a named mutual-exclusion lock.
type Locker interface {
	// WithLock executes fn while holding key and releases key afterwards.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// NewLocker creates a Locker appropriate for the database dialect.
// PostgreSQL uses session advisory locks; other databases use rows in the
// pipeline_locks table. A disabled config yields a Locker that never blocks.
func NewLocker(log logrus.FieldLogger, db *gorm.DB, cfg *config.LockConfig) Locker {
	log = log.WithField("component", "lock")

	if !cfg.Enabled {
		return Nop{}
	}

	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLocker{log: log, db: db}
	}

	return &tableLocker{
		log:        log,
		db:         db,
		staleAfter: cfg.StaleAfter,
		holder:     holderID(),
		now:        time.Now,
	}
}

// Nop runs fn without any exclusion.
type Nop struct{}

func (Nop) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// pgAdvisoryLocker holds a pg_try_advisory_lock on one pinned connection for
// the duration of fn. The lock dies with the session if the process crashes.
type pgAdvisoryLocker struct {
	log logrus.FieldLogger
	db  *gorm.DB
}

func (l *pgAdvisoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockID := advisoryID(key)

	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var acquired bool
		if err := conn.Raw("SELECT pg_try_advisory_lock(?)", lockID).Scan(&acquired).Error; err != nil {
			return fmt.Errorf("acquiring advisory lock %q: %w", key, err)
		}

		if !acquired {
			return fmt.Errorf("acquiring advisory lock %q: %w", key, ErrLocked)
		}

		defer func() {
			// Unlock with a fresh context so a cancelled run still releases.
			if err := conn.WithContext(context.Background()).
				Exec("SELECT pg_advisory_unlock(?)", lockID).Error; err != nil {
				l.log.WithError(err).WithField("key", key).Warn("Failed to release advisory lock")
			}
		}()

		l.log.WithField("key", key).Debug("Acquired advisory lock")

		return fn(ctx)
	})
}

// tableLocker uses insert-or-fail semantics on pipeline_locks, deleting rows
// older than staleAfter so a crashed holder cannot block forever.
type tableLocker struct {
	log        logrus.FieldLogger
	db         *gorm.DB
	staleAfter time.Duration
	holder     string
	now        func() time.Time
}

func (l *tableLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	now := l.now().UTC()

	if l.staleAfter > 0 {
		result := l.db.WithContext(ctx).
			Where("lock_key = ? AND locked_at < ?", key, now.Add(-l.staleAfter)).
			Delete(&store.PipelineLock{})
		if result.Error != nil {
			return fmt.Errorf("clearing stale lock %q: %w", key, result.Error)
		}

		if result.RowsAffected > 0 {
			l.log.WithField("key", key).Warn("Removed stale lock")
		}
	}

	row := store.PipelineLock{
		LockKey:  key,
		LockedAt: now,
		LockedBy: l.holder,
	}

	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		var held int64
		if countErr := l.db.WithContext(ctx).
			Model(&store.PipelineLock{}).
			Where("lock_key = ?", key).
			Count(&held).Error; countErr == nil && held > 0 {
			return fmt.Errorf("acquiring lock %q: %w", key, ErrLocked)
		}

		return fmt.Errorf("acquiring lock %q: %w", key, err)
	}

	defer func() {
		if err := l.db.WithContext(context.Background()).
			Where("lock_key = ? AND locked_by = ?", key, l.holder).
			Delete(&store.PipelineLock{}).Error; err != nil {
			l.log.WithError(err).WithField("key", key).Warn("Failed to release lock")
		}
	}()

	l.log.WithField("key", key).Debug("Acquired lock")

	return fn(ctx)
}

func advisoryID(key string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(key)))
}

func holderID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	return fmt.Sprintf("%s/%d/%s", hostname, os.Getpid(), uuid.NewString())
}
