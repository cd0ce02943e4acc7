package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoRecords = `[
 {"application_id":"a1","applicant_id":"p1","submitted_at":"2026-02-24T10:01:00Z","loan_amount":5000,"purpose":"auto","state":"NY","annual_income":40000.5},
 {"application_id":"a2","applicant_id":"p2","submitted_at":"2026-02-24T10:02:00Z","loan_amount":7000,"purpose":"medical","state":"TX","annual_income":52000}
]`

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(logrus.New(), &config.SourceConfig{
		BaseURL: srv.URL + "/",
		Path:    "/loan_applications",
		Timeout: timeout,
	})
}

func TestClient_FetchWithoutSince(t *testing.T) {
	var gotQuery map[string][]string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/loan_applications", r.URL.Path)
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(twoRecords))
	}, time.Second)

	records, err := c.Fetch(context.Background(), nil, 500)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"500"}, gotQuery["limit"])
	assert.NotContains(t, gotQuery, "since")

	assert.Equal(t, "a1", records[0].ApplicationID)
	require.NotNil(t, records[0].AnnualIncome)
	assert.InDelta(t, 40000.5, *records[0].AnnualIncome, 0.0001)
	require.NotNil(t, records[1].SubmittedAt)
	assert.True(t, records[1].SubmittedAt.Equal(time.Date(2026, 2, 24, 10, 2, 0, 0, time.UTC)))
	assert.NotEmpty(t, records[0].Raw)
}

func TestClient_FetchFormatsSinceInUTC(t *testing.T) {
	var gotSince string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		_, _ = w.Write([]byte(`[]`))
	}, time.Second)

	since := time.Date(2026, 2, 24, 5, 30, 15, 999, time.FixedZone("EST", -5*3600))

	records, err := c.Fetch(context.Background(), &since, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, "2026-02-24T10:30:15Z", gotSince)
}

func TestClient_FetchNon2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}, time.Second)

	_, err := c.Fetch(context.Background(), nil, 10)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "upstream exploded")
}

func TestClient_FetchTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)

	_, err := c.Fetch(context.Background(), nil, 10)
	require.Error(t, err)
}

func TestClient_FetchInvalidJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}, time.Second)

	_, err := c.Fetch(context.Background(), nil, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding record array")
}

func TestClient_FetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(logrus.New(), &config.SourceConfig{
		BaseURL: srv.URL,
		Path:    "/loan_applications",
		Timeout: time.Second,
	})

	_, err := c.Fetch(context.Background(), nil, 10)
	require.Error(t, err)
}
