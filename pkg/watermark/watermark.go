// Package watermark tracks, per source, the submitted_at boundary of data
// that has already been ingested and certified.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when no ingestion state row exists for a source.
	ErrNotFound = errors.New("ingestion state not found")

	// ErrConcurrentAdvance is returned by Advance when the stored watermark
	// no longer matches the value the caller read.
	ErrConcurrentAdvance = errors.New("watermark changed concurrently")
)

// Store reads and writes the single ingestion state row of each source.
// It does not enforce monotonicity; callers only ever pass a maximum.
type Store interface {
	// Ensure inserts a null watermark row for source if none exists.
	Ensure(ctx context.Context, source string) error

	// Get returns the current watermark, or nil when none is recorded.
	Get(ctx context.Context, source string) (*time.Time, error)

	// Set unconditionally stores ts as the watermark of source.
	Set(ctx context.Context, source string, ts time.Time) error

	// Advance stores next only if the watermark still equals prev
	// (nil meaning null).
	Advance(ctx context.Context, source string, prev *time.Time, next time.Time) error

	// List returns every ingestion state row ordered by source name.
	List(ctx context.Context) ([]store.IngestionState, error)
}

// Compile-time interface check.
var _ Store = (*watermarkStore)(nil)

type watermarkStore struct {
	log logrus.FieldLogger
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a watermark Store on db.
func NewStore(log logrus.FieldLogger, db *gorm.DB) Store {
	return &watermarkStore{
		log: log.WithField("component", "watermark"),
		db:  db,
		now: time.Now,
	}
}

func (s *watermarkStore) Ensure(ctx context.Context, source string) error {
	state := store.IngestionState{
		SourceName: source,
		UpdatedAt:  normalize(s.now()),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&state)
	if result.Error != nil {
		return fmt.Errorf("ensuring ingestion state for %q: %w", source, result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("source", source).Info("Created ingestion state")
	}

	return nil
}

func (s *watermarkStore) Get(ctx context.Context, source string) (*time.Time, error) {
	var state store.IngestionState

	err := s.db.WithContext(ctx).
		Where("source_name = ?", source).
		Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("getting watermark for %q: %w", source, err)
	}

	if state.LastIngestedAt == nil {
		return nil, nil
	}

	ts := state.LastIngestedAt.UTC()

	return &ts, nil
}

func (s *watermarkStore) Set(ctx context.Context, source string, ts time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&store.IngestionState{}).
		Where("source_name = ?", source).
		Updates(map[string]any{
			"last_ingested_at": normalize(ts),
			"updated_at":       normalize(s.now()),
		})
	if result.Error != nil {
		return fmt.Errorf("setting watermark for %q: %w", source, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("setting watermark for %q: %w", source, ErrNotFound)
	}

	return nil
}

func (s *watermarkStore) Advance(
	ctx context.Context, source string, prev *time.Time, next time.Time,
) error {
	query := s.db.WithContext(ctx).
		Model(&store.IngestionState{}).
		Where("source_name = ?", source)

	if prev == nil {
		query = query.Where("last_ingested_at IS NULL")
	} else {
		query = query.Where("last_ingested_at = ?", normalize(*prev))
	}

	result := query.Updates(map[string]any{
		"last_ingested_at": normalize(next),
		"updated_at":       normalize(s.now()),
	})
	if result.Error != nil {
		return fmt.Errorf("advancing watermark for %q: %w", source, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("advancing watermark for %q: %w", source, ErrConcurrentAdvance)
	}

	return nil
}

func (s *watermarkStore) List(ctx context.Context) ([]store.IngestionState, error) {
	var states []store.IngestionState
	if err := s.db.WithContext(ctx).
		Order("source_name ASC").
		Find(&states).Error; err != nil {
		return nil, fmt.Errorf("listing ingestion states: %w", err)
	}

	return states, nil
}

// normalize keeps stored timestamps in UTC at the precision every supported
// database round-trips exactly.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
