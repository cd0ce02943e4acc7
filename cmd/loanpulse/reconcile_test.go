package main

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/ethpandaops/loanpulse/pkg/lock"
	"github.com/ethpandaops/loanpulse/pkg/runs"
	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/ethpandaops/loanpulse/pkg/store/storetest"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testPipeline = "ingest_api_loan_applications"
	testSource   = "mock_api.loan_applications"
)

func newReconciler(t *testing.T) (*reconciler, *gorm.DB) {
	t.Helper()

	logger, _ := test.NewNullLogger()
	db := storetest.New(t).DB()

	return &reconciler{
		log:          logger,
		runs:         runs.NewRecorder(logger, db),
		locker:       lock.NewLocker(logger, db, &config.LockConfig{Enabled: true, StaleAfter: time.Hour}),
		pipelineName: testPipeline,
		sourceName:   testSource,
	}, db
}

func seedRun(t *testing.T, db *gorm.DB, runID, pipeline string, startedAt time.Time) {
	t.Helper()

	require.NoError(t, db.Create(&store.PipelineRun{
		RunID:        runID,
		PipelineName: pipeline,
		Status:       store.StatusRunning,
		StartedAt:    startedAt.UTC(),
	}).Error)
}

func loadRun(t *testing.T, db *gorm.DB, runID string) store.PipelineRun {
	t.Helper()

	var run store.PipelineRun
	require.NoError(t, db.First(&run, "run_id = ?", runID).Error)

	return run
}

func TestReconcile_ClosesOrphansOfPipeline(t *testing.T) {
	r, db := newReconciler(t)
	now := time.Now()

	seedRun(t, db, "old", testPipeline, now.Add(-2*time.Hour))
	seedRun(t, db, "fresh", testPipeline, now.Add(-time.Minute))
	seedRun(t, db, "other", "some_other_pipeline", now.Add(-2*time.Hour))

	found, reconciled, err := r.reconcile(context.Background(), now.Add(-time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	assert.Equal(t, 1, reconciled)

	old := loadRun(t, db, "old")
	assert.Equal(t, store.StatusFailed, old.Status)
	require.NotNil(t, old.ErrorMessage)
	assert.Equal(t, orphanMessage, *old.ErrorMessage)
	assert.Nil(t, old.RowCount)

	assert.Equal(t, store.StatusRunning, loadRun(t, db, "fresh").Status)
	assert.Equal(t, store.StatusRunning, loadRun(t, db, "other").Status)

	var locks int64
	require.NoError(t, db.Model(&store.PipelineLock{}).Count(&locks).Error)
	assert.Zero(t, locks)
}

func TestReconcile_DryRunLeavesRuns(t *testing.T) {
	r, db := newReconciler(t)
	now := time.Now()

	seedRun(t, db, "old", testPipeline, now.Add(-2*time.Hour))

	found, reconciled, err := r.reconcile(context.Background(), now.Add(-time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	assert.Zero(t, reconciled)
	assert.Equal(t, store.StatusRunning, loadRun(t, db, "old").Status)
}

func TestReconcile_LiveRunHoldsLock(t *testing.T) {
	r, db := newReconciler(t)
	now := time.Now()

	seedRun(t, db, "live", testPipeline, now.Add(-2*time.Hour))

	logger, _ := test.NewNullLogger()
	ingest := lock.NewLocker(logger, db, &config.LockConfig{Enabled: true, StaleAfter: 24 * time.Hour})

	err := ingest.WithLock(context.Background(), testSource, func(ctx context.Context) error {
		_, reconciled, err := r.reconcile(ctx, now.Add(-time.Hour), false)
		require.ErrorIs(t, err, lock.ErrLocked)
		assert.Zero(t, reconciled)

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusRunning, loadRun(t, db, "live").Status)
}
