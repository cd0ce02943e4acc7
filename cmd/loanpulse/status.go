package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethpandaops/loanpulse/pkg/runs"
	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/ethpandaops/loanpulse/pkg/watermark"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	statusOutput string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show source watermarks and recent runs",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "yaml", "output format (yaml, json)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of recent runs to show")
}

type statusReport struct {
	Sources []store.IngestionState `json:"sources" yaml:"sources"`
	Runs    []store.PipelineRun    `json:"runs" yaml:"runs"`
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	states, err := watermark.NewStore(log, db.DB()).List(ctx)
	if err != nil {
		return err
	}

	recent, err := runs.NewRecorder(log, db.DB()).ListRecent(ctx, statusLimit)
	if err != nil {
		return err
	}

	return writeReport(cmd.OutOrStdout(), statusOutput, statusReport{
		Sources: states,
		Runs:    recent,
	})
}

func writeReport(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
