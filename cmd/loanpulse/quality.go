package main

import (
	"github.com/ethpandaops/loanpulse/pkg/quality"
	"github.com/spf13/cobra"
)

var qualityOutput string

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Evaluate the staging quality gate",
	Long: `Evaluate every quality check against the full staging table and print
the result. Exits non-zero when any check fails.`,
	RunE: runQuality,
}

func init() {
	rootCmd.AddCommand(qualityCmd)
	qualityCmd.Flags().StringVarP(&qualityOutput, "output", "o", "yaml", "output format (yaml, json)")
}

func runQuality(cmd *cobra.Command, args []string) error {
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

	result, err := quality.NewGate(log, db.DB(), cfg.Quality.FutureTolerance).Evaluate(ctx)
	if err != nil {
		return err
	}

	if err := writeReport(cmd.OutOrStdout(), qualityOutput, result); err != nil {
		return err
	}

	if !result.Passed {
		return &quality.Error{Failures: result.Failures}
	}

	return nil
}
