package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Reconcile metrics
	SyncChangesTotal    *prometheus.CounterVec
	SyncDurationSeconds *prometheus.HistogramVec
	SyncEntryErrors     prometheus.Counter

	// Mutation metrics
	MutationsTotal *prometheus.CounterVec

	// Health metrics
	HealthStatus           *prometheus.GaugeVec
	LibraryDiskUsedPercent prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phototree_sync_changes_total",
				Help: "Records added, updated or removed by reconciliation",
			},
			[]string{"kind", "change"},
		),
		SyncDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phototree_sync_duration_seconds",
				Help:    "Duration of reconcile operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		SyncEntryErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "phototree_sync_entry_errors_total",
				Help: "Directory entries skipped because they could not be reconciled",
			},
		),

		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phototree_mutations_total",
				Help: "Album and image mutations by operation and outcome",
			},
			[]string{"kind", "operation", "status"},
		),

		HealthStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "phototree_health_status",
				Help: "Health status of dependencies (1=ok, 0=down)",
			},
			[]string{"dependency"},
		),
		LibraryDiskUsedPercent: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "phototree_library_disk_used_percent",
				Help: "Used space of the volume holding the library root",
			},
		),
	}
}

// InitializeMetrics registers metrics with the default registry and sets
// default values
func InitializeMetrics() *Metrics {
	m := NewMetrics(prometheus.DefaultRegisterer)
	m.HealthStatus.WithLabelValues("db").Set(0)
	m.HealthStatus.WithLabelValues("library").Set(0)
	return m
}

// ObserveSync records the duration and outcome of a reconcile operation.
// Calls on a nil receiver are ignored.
func (m *Metrics) ObserveSync(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.SyncDurationSeconds.WithLabelValues(operation, status(err)).Observe(time.Since(start).Seconds())
}

// AddChanges counts reconciled records of kind ("albums" or "images")
func (m *Metrics) AddChanges(kind string, added, updated, removed int) {
	if m == nil {
		return
	}
	m.SyncChangesTotal.WithLabelValues(kind, "added").Add(float64(added))
	m.SyncChangesTotal.WithLabelValues(kind, "updated").Add(float64(updated))
	m.SyncChangesTotal.WithLabelValues(kind, "removed").Add(float64(removed))
}

// EntrySkipped counts a directory entry that failed to reconcile
func (m *Metrics) EntrySkipped() {
	if m == nil {
		return
	}
	m.SyncEntryErrors.Inc()
}

// ObserveMutation counts a mutation of kind ("album" or "image")
func (m *Metrics) ObserveMutation(kind, operation string, err error) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(kind, operation, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
