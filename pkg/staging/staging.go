// Package staging merges extracted records into the cumulative, keyed
// staging relation.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/source"
	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertBatchSize bounds the number of rows per INSERT statement.
const upsertBatchSize = 100

// ErrMissingKey is returned when a record has no application id.
var ErrMissingKey = errors.New("record has no application_id")

// Merger upserts records into staging by application id.
type Merger interface {
	// Upsert inserts absent records and fully overwrites present ones,
	// returning the number of rows written. All rows commit atomically.
	Upsert(ctx context.Context, records []source.Record) (int64, error)

	// Count returns the number of staging rows.
	Count(ctx context.Context) (int64, error)

	// Get returns a single staging row.
	Get(ctx context.Context, applicationID string) (*store.StagingRecord, error)

	// List returns every staging row ordered by application id.
	List(ctx context.Context) ([]store.StagingRecord, error)
}

// Compile-time interface check.
var _ Merger = (*merger)(nil)

type merger struct {
	log logrus.FieldLogger
	db  *gorm.DB
}

// NewMerger creates a staging Merger on db.
func NewMerger(log logrus.FieldLogger, db *gorm.DB) Merger {
	return &merger{
		log: log.WithField("component", "staging"),
		db:  db,
	}
}

func (m *merger) Upsert(ctx context.Context, records []source.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows, err := toRows(records)
	if err != nil {
		return 0, err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "application_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"applicant_id",
				"submitted_at",
				"loan_amount",
				"purpose",
				"state",
				"annual_income",
			}),
		}).CreateInBatches(&rows, upsertBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upserting %d staging rows: %w", len(rows), err)
	}

	count := int64(len(rows))

	m.log.WithField("rows", count).Debug("Upserted staging rows")

	return count, nil
}

func (m *merger) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := m.db.WithContext(ctx).
		Model(&store.StagingRecord{}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting staging rows: %w", err)
	}

	return count, nil
}

func (m *merger) Get(ctx context.Context, applicationID string) (*store.StagingRecord, error) {
	var row store.StagingRecord
	if err := m.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Take(&row).Error; err != nil {
		return nil, fmt.Errorf("getting staging row %q: %w", applicationID, err)
	}

	return &row, nil
}

func (m *merger) List(ctx context.Context) ([]store.StagingRecord, error) {
	var rows []store.StagingRecord
	if err := m.db.WithContext(ctx).
		Order("application_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing staging rows: %w", err)
	}

	return rows, nil
}

// toRows maps records to staging rows. A key repeated within one batch keeps
// its last occurrence, since a single INSERT ... ON CONFLICT statement may not
// touch the same row twice.
func toRows(records []source.Record) ([]store.StagingRecord, error) {
	index := make(map[string]int, len(records))
	rows := make([]store.StagingRecord, 0, len(records))

	for i := range records {
		rec := &records[i]
		if rec.ApplicationID == "" {
			return nil, fmt.Errorf("record %d: %w", i, ErrMissingKey)
		}

		row := store.StagingRecord{
			ApplicationID: rec.ApplicationID,
			ApplicantID:   rec.ApplicantID,
			SubmittedAt:   utc(rec.SubmittedAt),
			LoanAmount:    rec.LoanAmount,
			Purpose:       rec.Purpose,
			State:         rec.State,
			AnnualIncome:  rec.AnnualIncome,
		}

		if pos, ok := index[row.ApplicationID]; ok {
			rows[pos] = row

			continue
		}

		index[row.ApplicationID] = len(rows)
		rows = append(rows, row)
	}

	return rows, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := t.UTC().Truncate(time.Microsecond)

	return &v
}
