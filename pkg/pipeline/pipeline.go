// Package pipeline sequences one ingestion run: extract, archive to bronze,
// merge into staging, evaluate the quality gate and, only when it passes,
// advance the source watermark.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/bronze"
	"github.com/ethpandaops/loanpulse/pkg/lock"
	"github.com/ethpandaops/loanpulse/pkg/metrics"
	"github.com/ethpandaops/loanpulse/pkg/quality"
	"github.com/ethpandaops/loanpulse/pkg/runs"
	"github.com/ethpandaops/loanpulse/pkg/source"
	"github.com/ethpandaops/loanpulse/pkg/staging"
	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/ethpandaops/loanpulse/pkg/watermark"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event names attached to run log entries under the "event" field.
const (
	EventPipelineStart    = "pipeline_start"
	EventWatermarkLoaded  = "watermark_loaded"
	EventAPIFetched       = "api_fetched"
	EventBronzeWritten    = "bronze_written"
	EventStagingUpserted  = "staging_upserted"
	EventQualityFailed    = "quality_failed"
	EventQualityPassed    = "quality_passed"
	EventWatermarkUpdated = "watermark_updated"
	EventPipelineSuccess  = "pipeline_success"
	EventPipelineFailed   = "pipeline_failed"
)

// Config names the pipeline and its source.
type Config struct {
	PipelineName string
	SourceName   string
	Limit        int
}

// Deps are the collaborators of a run.
type Deps struct {
	Source     source.Client
	Archivist  bronze.Archivist
	Merger     staging.Merger
	Gate       quality.Gate
	Watermarks watermark.Store
	Runs       runs.Recorder
	Locker     lock.Locker
	Metrics    metrics.Recorder
}

// Summary describes a finished run. A failed run still reports the fields
// it reached.
type Summary struct {
	RunID             string     `json:"run_id"`
	Status            string     `json:"status"`
	Fetched           int        `json:"fetched"`
	RowCount          int64      `json:"row_count"`
	BronzeLocation    string     `json:"bronze_location,omitempty"`
	PreviousWatermark *time.Time `json:"previous_watermark"`
	Watermark         *time.Time `json:"watermark"`
}

// Orchestrator performs pipeline runs.
type Orchestrator interface {
	// Run performs exactly one pipeline execution. Any failure after the
	// run row is created is recorded on the run before being returned.
	Run(ctx context.Context) (*Summary, error)
}

// Compile-time interface check.
var _ Orchestrator = (*orchestrator)(nil)

type orchestrator struct {
	log      logrus.FieldLogger
	cfg      Config
	deps     Deps
	now      func() time.Time
	newRunID func() string
}

// Option configures an Orchestrator.
type Option func(*orchestrator)

// WithClock overrides the clock used for run durations.
func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) { o.now = now }
}

// WithRunIDGenerator overrides how run identifiers are generated.
func WithRunIDGenerator(fn func() string) Option {
	return func(o *orchestrator) { o.newRunID = fn }
}

// NewOrchestrator creates an Orchestrator. A nil Locker or Metrics is
// replaced by a no-op implementation.
func NewOrchestrator(
	log logrus.FieldLogger,
	cfg Config,
	deps Deps,
	opts ...Option,
) Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}

	if deps.Locker == nil {
		deps.Locker = lock.Nop{}
	}

	o := &orchestrator{
		log:      log.WithField("component", "pipeline"),
		cfg:      cfg,
		deps:     deps,
		now:      time.Now,
		newRunID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *orchestrator) Run(ctx context.Context) (*Summary, error) {
	var summary *Summary

	err := o.deps.Locker.WithLock(ctx, o.cfg.SourceName, func(ctx context.Context) error {
		summary = &Summary{RunID: o.newRunID()}

		return o.run(ctx, summary)
	})
	if errors.Is(err, lock.ErrLocked) {
		o.log.WithField("source", o.cfg.SourceName).Warn("Another run holds the source lock")

		return nil, fmt.Errorf("starting run for %s: %w", o.cfg.SourceName, err)
	}

	return summary, err
}

func (o *orchestrator) run(ctx context.Context, summary *Summary) (err error) {
	started := o.now()

	log := o.log.WithFields(logrus.Fields{
		"pipeline": o.cfg.PipelineName,
		"run_id":   summary.RunID,
	})

	succeeded := false

	defer func() {
		if succeeded || err == nil {
			return
		}

		summary.Status = store.StatusFailed
		msg := err.Error()

		// Recording the failure is best-effort and must not mask err.
		if ferr := o.deps.Runs.Finish(
			context.WithoutCancel(ctx), summary.RunID, store.StatusFailed, nil, &msg,
		); ferr != nil {
			log.WithError(ferr).Warn("Failed to record run failure")
		}

		o.deps.Metrics.RunFinished(store.StatusFailed, o.now().Sub(started))

		log.WithFields(logrus.Fields{
			"event": EventPipelineFailed,
			"error": msg,
		}).Error("Pipeline run failed")
	}()

	log.WithFields(logrus.Fields{
		"event":  EventPipelineStart,
		"source": o.cfg.SourceName,
	}).Info("Pipeline run started")

	if err := o.deps.Runs.Start(ctx, summary.RunID, o.cfg.PipelineName); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	if err := o.deps.Watermarks.Ensure(ctx, o.cfg.SourceName); err != nil {
		return fmt.Errorf("ensuring ingestion state: %w", err)
	}

	prev, err := o.deps.Watermarks.Get(ctx, o.cfg.SourceName)
	if err != nil {
		return fmt.Errorf("loading watermark: %w", err)
	}

	summary.PreviousWatermark = prev
	summary.Watermark = prev

	log.WithFields(logrus.Fields{
		"event":     EventWatermarkLoaded,
		"source":    o.cfg.SourceName,
		"watermark": formatTime(prev),
	}).Info("Watermark loaded")

	records, err := o.deps.Source.Fetch(ctx, prev, o.cfg.Limit)
	if err != nil {
		return fmt.Errorf("fetching records: %w", err)
	}

	summary.Fetched = len(records)
	o.deps.Metrics.RecordsFetched(len(records))

	log.WithFields(logrus.Fields{
		"event": EventAPIFetched,
		"count": len(records),
	}).Info("Fetched records")

	if len(records) > 0 {
		if err := o.ingest(ctx, log, summary, records, prev); err != nil {
			return err
		}
	}

	rowCount := summary.RowCount
	if err := o.deps.Runs.Finish(ctx, summary.RunID, store.StatusSuccess, &rowCount, nil); err != nil {
		return fmt.Errorf("recording run success: %w", err)
	}

	succeeded = true
	summary.Status = store.StatusSuccess

	o.deps.Metrics.RunFinished(store.StatusSuccess, o.now().Sub(started))

	log.WithFields(logrus.Fields{
		"event":     EventPipelineSuccess,
		"row_count": rowCount,
	}).Info("Pipeline run succeeded")

	return nil
}

// ingest archives, merges, validates and advances for a non-empty batch.
func (o *orchestrator) ingest(
	ctx context.Context,
	log logrus.FieldLogger,
	summary *Summary,
	records []source.Record,
	prev *time.Time,
) error {
	location, err := o.deps.Archivist.Write(ctx, records, summary.RunID)
	if err != nil {
		return fmt.Errorf("writing bronze archive: %w", err)
	}

	summary.BronzeLocation = location

	log.WithFields(logrus.Fields{
		"event": EventBronzeWritten,
		"path":  location,
		"count": len(records),
	}).Info("Bronze archive written")

	rowCount, err := o.deps.Merger.Upsert(ctx, records)
	if err != nil {
		return fmt.Errorf("upserting staging: %w", err)
	}

	summary.RowCount = rowCount
	o.deps.Metrics.RecordsUpserted(rowCount)

	log.WithFields(logrus.Fields{
		"event":     EventStagingUpserted,
		"row_count": rowCount,
	}).Info("Staging upserted")

	result, err := o.deps.Gate.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluating quality gate: %w", err)
	}

	if !result.Passed {
		for check, count := range result.Counts {
			if count > 0 {
				o.deps.Metrics.QualityCheckFailed(check)
			}
		}

		log.WithFields(logrus.Fields{
			"event":    EventQualityFailed,
			"failures": result.Failures,
		}).Warn("Quality checks failed")

		return &quality.Error{Failures: result.Failures}
	}

	log.WithField("event", EventQualityPassed).Info("Quality checks passed")

	next := source.MaxSubmittedAt(records)
	if next == nil {
		return nil
	}

	if prev != nil && !next.After(*prev) {
		log.WithFields(logrus.Fields{
			"watermark": formatTime(prev),
			"max_seen":  formatTime(next),
		}).Warn("Batch does not extend the watermark, leaving it unchanged")

		return nil
	}

	if err := o.deps.Watermarks.Advance(ctx, o.cfg.SourceName, prev, *next); err != nil {
		return fmt.Errorf("advancing watermark: %w", err)
	}

	summary.Watermark = next
	o.deps.Metrics.WatermarkAdvanced(o.cfg.SourceName, *next)

	log.WithFields(logrus.Fields{
		"event":         EventWatermarkUpdated,
		"source":        o.cfg.SourceName,
		"new_watermark": formatTime(next),
	}).Info("Watermark advanced")

	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC().Format(time.RFC3339Nano)
}
