package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReport(t *testing.T) {
	wm := time.Date(2026, 2, 24, 10, 3, 0, 0, time.UTC)
	report := statusReport{
		Sources: []store.IngestionState{{
			SourceName:     "mock_api.loan_applications",
			LastIngestedAt: &wm,
			UpdatedAt:      wm,
		}},
		Runs: []store.PipelineRun{{
			RunID:        "r1",
			PipelineName: "ingest_api_loan_applications",
			Status:       store.StatusRunning,
			StartedAt:    wm,
		}},
	}

	tests := []struct {
		format   string
		contains []string
	}{
		{format: "yaml", contains: []string{"source_name: mock_api.loan_applications", "status: running"}},
		{format: "json", contains: []string{`"source_name": "mock_api.loan_applications"`, `"finished_at": null`}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeReport(&buf, tt.format, report))

			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}

	require.Error(t, writeReport(&bytes.Buffer{}, "xml", report))
}
