package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}

	return nil
}

func TestMetrics_Observations(t *testing.T) {
	m := New()

	m.RecordsFetched(3)
	m.RecordsFetched(2)
	m.RecordsUpserted(5)
	m.RunFinished("success", 2*time.Second)
	m.RunFinished("failed", time.Second)
	m.RunFinished("failed", time.Second)
	m.QualityCheckFailed("loan_amount_positive")

	ts := time.Date(2026, 2, 24, 10, 3, 0, 0, time.UTC)
	m.WatermarkAdvanced("mock_api.loan_applications", ts)

	assert.InDelta(t, 5, testutil.ToFloat64(m.recordsFetched), 0.001)
	assert.InDelta(t, 5, testutil.ToFloat64(m.recordsUpserted), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runsTotal.WithLabelValues("success")), 0.001)
	assert.InDelta(t, 2, testutil.ToFloat64(m.runsTotal.WithLabelValues("failed")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.qualityFailures.WithLabelValues("loan_amount_positive")), 0.001)
	assert.InDelta(t, float64(ts.Unix()),
		testutil.ToFloat64(m.watermarkTimestamp.WithLabelValues("mock_api.loan_applications")), 0.001)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	duration := findFamily(families, "loanpulse_run_duration_seconds")
	require.NotNil(t, duration)
	assert.Equal(t, uint64(3), duration.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_Push(t *testing.T) {
	var (
		gotPath string
		gotBody string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	m := New()
	m.RecordsFetched(1)

	require.NoError(t, m.Push(context.Background(), srv.URL, "loanpulse_ingest"))
	assert.Equal(t, "/metrics/job/loanpulse_ingest", gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestMetrics_PushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	err := New().Push(context.Background(), srv.URL, "job")
	require.Error(t, err)
}
