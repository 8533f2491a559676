package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Counters
	postings         *prometheus.CounterVec
	topups           *prometheus.CounterVec
	keyVerifications *prometheus.CounterVec
	keysSwept        prometheus.Counter
	closings         prometheus.Counter
	closingCache     *prometheus.CounterVec
	purgeBatches     *prometheus.CounterVec
	purgeDeleted     prometheus.Counter

	// Gauges
	closingSystemTotal prometheus.Gauge
	purgePercent       prometheus.Gauge

	// Histograms
	closingEntries  prometheus.Histogram
	closingDuration prometheus.Histogram
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		postings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_postings_total",
				Help:      "Total number of resolved ledger postings per kind and direction",
			},
			[]string{"kind", "direction"},
		),
		topups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "topup_requests_total",
				Help:      "Top-up request transitions per outcome",
			},
			[]string{"outcome"},
		),
		keyVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorization_key_verifications_total",
				Help:      "Authorization key verifications per outcome",
			},
			[]string{"outcome"},
		),
		keysSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorization_keys_swept_total",
				Help:      "Expired temporary keys retired by the sweep",
			},
		),
		closings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "closings_total",
				Help:      "Total number of closings performed",
			},
		),
		closingCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "closing_cache_lookups_total",
				Help:      "Closing cache lookups per result",
			},
			[]string{"result"},
		),
		purgeBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purge_batches_total",
				Help:      "Maintenance purge batches per result",
			},
			[]string{"result"},
		),
		purgeDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purge_rows_deleted_total",
				Help:      "Rows removed by the maintenance purge",
			},
		),
		closingSystemTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "closing_last_system_total",
				Help:      "System total of the most recent closing",
			},
		),
		purgePercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "purge_progress_percent",
				Help:      "Progress of the current maintenance purge run",
			},
		),
		closingEntries: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "closing_entries",
				Help:      "Number of ledger entries swept per closing",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		closingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "closing_duration_seconds",
				Help:      "Time spent performing a closing",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		pc.postings,
		pc.topups,
		pc.keyVerifications,
		pc.keysSwept,
		pc.closings,
		pc.closingCache,
		pc.purgeBatches,
		pc.purgeDeleted,
		pc.closingSystemTotal,
		pc.purgePercent,
		pc.closingEntries,
		pc.closingDuration,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (pc *PrometheusCollector) RecordPosting(kind, direction string) {
	pc.postings.WithLabelValues(kind, direction).Inc()
}

func (pc *PrometheusCollector) RecordTopup(outcome string) {
	pc.topups.WithLabelValues(outcome).Inc()
}

func (pc *PrometheusCollector) RecordKeyVerification(outcome string) {
	pc.keyVerifications.WithLabelValues(outcome).Inc()
}

func (pc *PrometheusCollector) RecordKeysSwept(count int) {
	pc.keysSwept.Add(float64(count))
}

func (pc *PrometheusCollector) RecordClosing(systemTotal float64, entries int, duration time.Duration) {
	pc.closings.Inc()
	pc.closingSystemTotal.Set(systemTotal)
	pc.closingEntries.Observe(float64(entries))
	pc.closingDuration.Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordClosingCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pc.closingCache.WithLabelValues(result).Inc()
}

func (pc *PrometheusCollector) RecordPurgeBatch(deleted int64, percent float64, success bool) {
	if !success {
		pc.purgeBatches.WithLabelValues("error").Inc()
		return
	}
	pc.purgeBatches.WithLabelValues("ok").Inc()
	pc.purgeDeleted.Add(float64(deleted))
	pc.purgePercent.Set(percent)
}
