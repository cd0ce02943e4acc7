package main

import (
	"fmt"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/ethpandaops/loanpulse/pkg/mockapi"
	"github.com/spf13/cobra"
)

var mockAPIListen string

var mockAPICmd = &cobra.Command{
	Use:   "mock-api",
	Short: "Serve the synthetic loan application source",
	Long: `Serve GET /health and GET /loan_applications?since=&limit= with one
synthetic application per minute, for local runs of the pipeline.`,
	RunE: runMockAPI,
}

func init() {
	rootCmd.AddCommand(mockAPICmd)
	mockAPICmd.Flags().StringVar(&mockAPIListen, "listen", "", "listen address (overrides mock_api.listen)")
}

func runMockAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if mockAPIListen != "" {
		cfg.MockAPI.Listen = mockAPIListen
	}

	ctx, cancel := signalContext()
	defer cancel()

	return mockapi.NewServer(log, &cfg.MockAPI).Run(ctx)
}
