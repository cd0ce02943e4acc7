// Package metrics exposes the batch pipeline's prometheus metrics on a
// private registry that can be pushed to a Pushgateway after a run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "loanpulse"

// Recorder receives pipeline observations. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RunFinished(status string, duration time.Duration)
	RecordsFetched(n int)
	RecordsUpserted(n int64)
	QualityCheckFailed(check string)
	WatermarkAdvanced(source string, ts time.Time)
}

// Metrics holds every pipeline collector.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	recordsFetched     prometheus.Counter
	recordsUpserted    prometheus.Counter
	qualityFailures    *prometheus.CounterVec
	runDuration        prometheus.Histogram
	watermarkTimestamp *prometheus.GaugeVec
}

// Compile-time interface check.
var _ Recorder = (*Metrics)(nil)

// New registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		recordsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Records returned by the source API.",
		}),
		recordsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_upserted_total",
			Help:      "Rows upserted into staging.",
		}),
		qualityFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_failures_total",
			Help:      "Quality gate evaluations in which a check reported failing rows.",
		}, []string{"check"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		watermarkTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Unix time of the committed watermark per source.",
		}, []string{"source"}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RunFinished(status string, duration time.Duration) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordsFetched(n int) {
	m.recordsFetched.Add(float64(n))
}

func (m *Metrics) RecordsUpserted(n int64) {
	m.recordsUpserted.Add(float64(n))
}

func (m *Metrics) QualityCheckFailed(check string) {
	m.qualityFailures.WithLabelValues(check).Inc()
}

func (m *Metrics) WatermarkAdvanced(source string, ts time.Time) {
	m.watermarkTimestamp.WithLabelValues(source).Set(float64(ts.UnixNano()) / 1e9)
}

// Push sends the registry to a Pushgateway under job, replacing any metrics
// previously pushed for that job.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).
		Gatherer(m.registry).
		PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", gatewayURL, err)
	}

	return nil
}

// Nop discards every observation.
type Nop struct{}

// Compile-time interface check.
var _ Recorder = Nop{}

func (Nop) RunFinished(string, time.Duration)   {}
func (Nop) RecordsFetched(int)                  {}
func (Nop) RecordsUpserted(int64)               {}
func (Nop) QualityCheckFailed(string)           {}
func (Nop) WatermarkAdvanced(string, time.Time) {}
