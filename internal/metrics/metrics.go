// Package metrics exposes Prometheus collectors for link operations and
// hard-link scans. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bamsammich/warren/internal/stats"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	scans        *prometheus.CounterVec
	scanDuration prometheus.Histogram
	scanEntries  prometheus.Counter
	scanSkipped  prometheus.Counter
	linksFound   prometheus.Histogram
	eventsDrop   prometheus.Counter
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New registers the warren collectors with reg. Returns nil if reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warren_link_operations_total",
				Help: "Link operations by operation and outcome",
			},
			[]string{"operation", "outcome"}, // outcome: "ok" or an error code
		),
		opDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warren_link_operation_duration_seconds",
				Help:    "Link operation latency",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"operation"},
		),
		scans: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warren_hardlink_scans_total",
				Help: "Hard-link discovery scans by strategy and completeness",
			},
			[]string{"strategy", "result"}, // strategy: "fast" or "tree"; result: "complete" or "partial"
		),
		scanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warren_hardlink_scan_duration_seconds",
			Help:    "Hard-link discovery scan latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		scanEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "warren_hardlink_scan_entries_checked_total",
			Help: "Directory entries inspected by hard-link scans",
		}),
		scanSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "warren_hardlink_scan_entries_skipped_total",
			Help: "Entries skipped by hard-link scans because they vanished or were unreadable",
		}),
		linksFound: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "warren_hardlink_scan_links_found",
			Help:    "Hard links discovered per scan, origin excluded",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 64},
		}),
		eventsDrop: f.NewCounter(prometheus.CounterOpts{
			Name: "warren_events_dropped_total",
			Help: "Audit events dropped because the listener was not keeping up",
		}),
	}
}

// ObserveOperation records one finished link operation. outcome is "ok" or
// the error code name.
func (m *Metrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveScan records a finished hard-link scan.
func (m *Metrics) ObserveScan(s stats.Snapshot, found int, partial bool) {
	if m == nil {
		return
	}
	strategy := "fast"
	if s.TreeWalked {
		strategy = "tree"
	}
	result := "complete"
	if partial {
		result = "partial"
	}
	m.scans.WithLabelValues(strategy, result).Inc()
	m.scanDuration.Observe(s.Elapsed.Seconds())
	m.scanEntries.Add(float64(s.EntriesChecked))
	m.scanSkipped.Add(float64(s.EntriesSkipped))
	m.linksFound.Observe(float64(found))
}

// EventDropped counts an audit event that could not be delivered.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDrop.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
