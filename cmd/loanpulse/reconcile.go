package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/lock"
	"github.com/ethpandaops/loanpulse/pkg/runs"
	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// orphanMessage is stored on runs closed by reconcile.
const orphanMessage = "orphaned run reconciled by operator"

var (
	reconcileOlderThan time.Duration
	reconcileDryRun    bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Mark orphaned running runs as failed",
	Long: `A process that dies between creating a run and finishing it leaves the
run in running status. Reconcile marks such runs of the configured pipeline
older than --older-than as failed while holding the source lock, so it
refuses to run alongside a live ingest. Watermarks are never touched.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().DurationVar(&reconcileOlderThan, "older-than", time.Hour,
		"only reconcile runs started longer ago than this")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false,
		"list orphaned runs without modifying them")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if reconcileOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Stop() }()

	r := &reconciler{
		log:          log,
		runs:         runs.NewRecorder(log, db.DB()),
		locker:       lock.NewLocker(log, db.DB(), &cfg.Lock),
		pipelineName: cfg.Pipeline.Name,
		sourceName:   cfg.Source.Name,
	}

	found, reconciled, err := r.reconcile(ctx, time.Now().Add(-reconcileOlderThan), reconcileDryRun)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"found":      found,
		"reconciled": reconciled,
	}).Info("Reconcile completed")

	return nil
}

// reconciler closes orphaned runs of one pipeline.
type reconciler struct {
	log          logrus.FieldLogger
	runs         runs.Recorder
	locker       lock.Locker
	pipelineName string
	sourceName   string
}

// reconcile fails runs of the pipeline still running since before cutoff.
// It holds the source lock while doing so, so a live run is never closed
// underneath its orchestrator; a held lock fails with lock.ErrLocked.
func (r *reconciler) reconcile(ctx context.Context, cutoff time.Time, dryRun bool) (found, reconciled int, err error) {
	if dryRun {
		orphans, err := r.orphans(ctx, cutoff)
		if err != nil {
			return 0, 0, err
		}

		for _, run := range orphans {
			r.runLog(run).Info("Orphaned run")
		}

		return len(orphans), 0, nil
	}

	err = r.locker.WithLock(ctx, r.sourceName, func(ctx context.Context) error {
		orphans, err := r.orphans(ctx, cutoff)
		if err != nil {
			return err
		}

		found = len(orphans)
		msg := orphanMessage

		for _, run := range orphans {
			runLog := r.runLog(run)

			if err := r.runs.Finish(ctx, run.RunID, store.StatusFailed, nil, &msg); err != nil {
				runLog.WithError(err).Warn("Failed to reconcile run")

				continue
			}

			reconciled++

			runLog.Info("Reconciled orphaned run")
		}

		return nil
	})
	if err != nil {
		return found, reconciled, fmt.Errorf("reconciling runs of %s: %w", r.pipelineName, err)
	}

	return found, reconciled, nil
}

func (r *reconciler) orphans(ctx context.Context, cutoff time.Time) ([]store.PipelineRun, error) {
	all, err := r.runs.ListOrphaned(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	orphans := make([]store.PipelineRun, 0, len(all))

	for _, run := range all {
		if run.PipelineName == r.pipelineName {
			orphans = append(orphans, run)
		}
	}

	return orphans, nil
}

func (r *reconciler) runLog(run store.PipelineRun) logrus.FieldLogger {
	return r.log.WithFields(logrus.Fields{
		"run_id":     run.RunID,
		"pipeline":   run.PipelineName,
		"started_at": run.StartedAt,
	})
}
