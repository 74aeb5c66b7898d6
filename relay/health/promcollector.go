package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector exposes a Store's per-provider health as Prometheus
// gauges, scraped on demand rather than pushed on every update — the
// store is the single source of truth and Collect simply reads its
// current snapshot, grounded on the teacher's internal/metrics.Collector
// namespace convention but reshaped from counter/histogram push calls
// into a pull-model prometheus.Collector, since gauges here track live
// state rather than accumulating events.
type PromCollector struct {
	store *Store

	score        *prometheus.Desc
	latencyEWMA  *prometheus.Desc
	successCount *prometheus.Desc
	failureCount *prometheus.Desc
	circuitOpen  *prometheus.Desc
}

// NewPromCollector builds a collector reading from store, with metric
// names under the given namespace (e.g. "relay").
func NewPromCollector(store *Store, namespace string) *PromCollector {
	labels := []string{"provider_id"}
	return &PromCollector{
		store: store,
		score: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "provider", "health_score"),
			"Current computed health score in [0,1] for a provider.",
			labels, nil,
		),
		latencyEWMA: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "provider", "latency_ewma_ms"),
			"EWMA-smoothed latency in milliseconds for a provider.",
			labels, nil,
		),
		successCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "provider", "success_total"),
			"Total successful generations recorded for a provider.",
			labels, nil,
		),
		failureCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "provider", "failure_total"),
			"Total failed generations recorded for a provider.",
			labels, nil,
		),
		circuitOpen: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "provider", "circuit_open"),
			"1 if the provider's circuit breaker is open, 0 otherwise.",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.score
	ch <- c.latencyEWMA
	ch <- c.successCount
	ch <- c.failureCount
	ch <- c.circuitOpen
}

// Collect implements prometheus.Collector, reading a fresh snapshot of
// every tracked provider on each scrape.
func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	for _, h := range c.store.GetAllHealth() {
		ch <- prometheus.MustNewConstMetric(c.score, prometheus.GaugeValue, h.Score, h.ProviderID)
		ch <- prometheus.MustNewConstMetric(c.latencyEWMA, prometheus.GaugeValue, h.LatencyEWMAMs, h.ProviderID)
		ch <- prometheus.MustNewConstMetric(c.successCount, prometheus.GaugeValue, float64(h.SuccessCount), h.ProviderID)
		ch <- prometheus.MustNewConstMetric(c.failureCount, prometheus.GaugeValue, float64(h.FailureCount), h.ProviderID)

		open := 0.0
		if h.CircuitState == "open" {
			open = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.circuitOpen, prometheus.GaugeValue, open, h.ProviderID)
	}
}
