package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/bronze"
	"github.com/ethpandaops/loanpulse/pkg/lock"
	"github.com/ethpandaops/loanpulse/pkg/metrics"
	"github.com/ethpandaops/loanpulse/pkg/pipeline"
	"github.com/ethpandaops/loanpulse/pkg/quality"
	"github.com/ethpandaops/loanpulse/pkg/runs"
	"github.com/ethpandaops/loanpulse/pkg/source"
	"github.com/ethpandaops/loanpulse/pkg/staging"
	"github.com/ethpandaops/loanpulse/pkg/watermark"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const metricsPushTimeout = 10 * time.Second

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the ingestion pipeline once",
	Long: `Fetch records newer than the source watermark, archive them to bronze,
upsert them into staging and advance the watermark if the quality gate passes.
Exits non-zero when the run fails.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	db, err := openMigratedDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Stop() }()

	sink, err := bronze.NewSink(log, &cfg.Bronze)
	if err != nil {
		return fmt.Errorf("creating bronze sink: %w", err)
	}

	m := metrics.New()

	orch := pipeline.NewOrchestrator(log, pipeline.Config{
		PipelineName: cfg.Pipeline.Name,
		SourceName:   cfg.Source.Name,
		Limit:        cfg.Source.Limit,
	}, pipeline.Deps{
		Source:     source.NewClient(log, &cfg.Source),
		Archivist:  bronze.NewArchivist(log, sink),
		Merger:     staging.NewMerger(log, db.DB()),
		Gate:       quality.NewGate(log, db.DB(), cfg.Quality.FutureTolerance),
		Watermarks: watermark.NewStore(log, db.DB()),
		Runs:       runs.NewRecorder(log, db.DB()),
		Locker:     lock.NewLocker(log, db.DB(), &cfg.Lock),
		Metrics:    m,
	})

	summary, runErr := orch.Run(ctx)

	if cfg.Metrics.PushGatewayURL != "" {
		pushCtx, pushCancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
		defer pushCancel()

		if err := m.Push(pushCtx, cfg.Metrics.PushGatewayURL, cfg.Metrics.Job); err != nil {
			log.WithError(err).Warn("Failed to push metrics")
		}
	}

	if runErr != nil {
		return fmt.Errorf("ingest run failed: %w", runErr)
	}

	log.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"row_count": summary.RowCount,
		"bronze":    summary.BronzeLocation,
	}).Info("Ingest completed")

	return nil
}
