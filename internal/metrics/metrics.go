// Package metrics holds the pipeline's Prometheus collectors. Collectors
// live on a private registry and are pushed to a Pushgateway at the end of
// a run.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"pulsereveal/internal/transform"
)

const namespace = "pulsereveal"

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	registry *prometheus.Registry

	// FilingsTotal counts processed filings.
	// Labels: status (parsed, empty, no_ownership_document, fetch_failed, malformed, skipped)
	FilingsTotal *prometheus.CounterVec

	// RawRowsTotal counts rows appended to the raw ledger.
	RawRowsTotal prometheus.Counter

	// PromotionsTotal counts transform outcomes.
	// Labels: outcome (promoted, skipped, already_promoted, duplicate, failed), reason
	PromotionsTotal *prometheus.CounterVec

	// ClusterAlertsTotal counts emitted cluster alerts.
	// Labels: group_by
	ClusterAlertsTotal *prometheus.CounterVec

	// RunDurationSeconds measures wall time per stage.
	// Labels: stage (crawl, transform, clusters, run), status (success, error)
	RunDurationSeconds *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FilingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crawl",
				Name:      "filings_total",
				Help:      "Form 4 filings processed, by outcome.",
			},
			[]string{"status"},
		),
		RawRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "crawl",
				Name:      "raw_rows_total",
				Help:      "Rows appended to the raw ledger.",
			},
		),
		PromotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transform",
				Name:      "rows_total",
				Help:      "Staged rows handled by the transform engine, by outcome.",
			},
			[]string{"outcome", "reason"},
		),
		ClusterAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "clusters",
				Name:      "alerts_total",
				Help:      "Cluster alerts emitted.",
			},
			[]string{"group_by"},
		),
		RunDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of pipeline stages.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
			},
			[]string{"stage", "status"},
		),
	}

	m.registry.MustRegister(
		m.FilingsTotal,
		m.RawRowsTotal,
		m.PromotionsTotal,
		m.ClusterAlertsTotal,
		m.RunDurationSeconds,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFiling records one filing outcome.
func (m *Metrics) ObserveFiling(status string) {
	if m == nil {
		return
	}
	m.FilingsTotal.WithLabelValues(status).Inc()
}

// ObserveRawRows records appended raw rows.
func (m *Metrics) ObserveRawRows(n int) {
	if m == nil {
		return
	}
	m.RawRowsTotal.Add(float64(n))
}

// ObservePromotion implements transform.Observer.
func (m *Metrics) ObservePromotion(outcome transform.Outcome, reason string) {
	if m == nil {
		return
	}
	m.PromotionsTotal.WithLabelValues(string(outcome), reason).Inc()
}

// ObserveAlerts records emitted cluster alerts.
func (m *Metrics) ObserveAlerts(groupBy string, n int) {
	if m == nil {
		return
	}
	m.ClusterAlertsTotal.WithLabelValues(groupBy).Add(float64(n))
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RunDurationSeconds.WithLabelValues(stage, status).Observe(time.Since(started).Seconds())
}

// Push sends the registry to a Pushgateway. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job, runID string) error {
	if url == "" {
		return nil
	}
	pusher := push.New(url, job).Gatherer(m.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	return pusher.PushContext(ctx)
}

var _ transform.Observer = (*Metrics)(nil)
