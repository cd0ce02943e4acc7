// Package runs records the lifecycle of pipeline executions.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNotRunning is returned when finishing a run that is unknown or already
// in a terminal status.
var ErrNotRunning = errors.New("run is not running")

// Recorder writes the append-only pipeline run audit trail.
type Recorder interface {
	// Start inserts a new run in running status.
	Start(ctx context.Context, runID, pipelineName string) error

	// Finish moves a running run to a terminal status exactly once.
	Finish(ctx context.Context, runID, status string, rowCount *int64, errMsg *string) error

	// Get returns a single run.
	Get(ctx context.Context, runID string) (*store.PipelineRun, error)

	// ListRecent returns up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]store.PipelineRun, error)

	// ListOrphaned returns running runs started before cutoff.
	ListOrphaned(ctx context.Context, cutoff time.Time) ([]store.PipelineRun, error)
}

// Compile-time interface check.
var _ Recorder = (*recorder)(nil)

type recorder struct {
	log logrus.FieldLogger
	db  *gorm.DB
	now func() time.Time
}

// NewRecorder creates a run Recorder on db.
func NewRecorder(log logrus.FieldLogger, db *gorm.DB) Recorder {
	return &recorder{
		log: log.WithField("component", "runs"),
		db:  db,
		now: time.Now,
	}
}

func (r *recorder) Start(ctx context.Context, runID, pipelineName string) error {
	run := store.PipelineRun{
		RunID:        runID,
		PipelineName: pipelineName,
		Status:       store.StatusRunning,
		StartedAt:    r.now().UTC(),
	}

	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("creating pipeline run %s: %w", runID, err)
	}

	return nil
}

func (r *recorder) Finish(
	ctx context.Context, runID, status string, rowCount *int64, errMsg *string,
) error {
	if status != store.StatusSuccess && status != store.StatusFailed {
		return fmt.Errorf("finishing pipeline run %s: invalid terminal status %q", runID, status)
	}

	result := r.db.WithContext(ctx).
		Model(&store.PipelineRun{}).
		Where("run_id = ? AND status = ?", runID, store.StatusRunning).
		Updates(map[string]any{
			"status":        status,
			"finished_at":   r.now().UTC(),
			"row_count":     rowCount,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("finishing pipeline run %s: %w", runID, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("finishing pipeline run %s: %w", runID, ErrNotRunning)
	}

	return nil
}

func (r *recorder) Get(ctx context.Context, runID string) (*store.PipelineRun, error) {
	var run store.PipelineRun
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Take(&run).Error; err != nil {
		return nil, fmt.Errorf("getting pipeline run %s: %w", runID, err)
	}

	return &run, nil
}

func (r *recorder) ListRecent(ctx context.Context, limit int) ([]store.PipelineRun, error) {
	var list []store.PipelineRun
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("listing pipeline runs: %w", err)
	}

	return list, nil
}

func (r *recorder) ListOrphaned(ctx context.Context, cutoff time.Time) ([]store.PipelineRun, error) {
	var list []store.PipelineRun
	if err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", store.StatusRunning, cutoff.UTC()).
		Order("started_at ASC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("listing orphaned pipeline runs: %w", err)
	}

	return list, nil
}
