// Package metrics counts allocator, aggregate and save activity on a
// Prometheus registry owned by the caller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "batchtree"

// Metrics implements identity.Observer and aggregate.Observer.
type Metrics struct {
	registry *prometheus.Registry

	idsAllocated     *prometheus.CounterVec
	recordsSaved     prometheus.Counter
	saveFailures     prometheus.Counter
	orphans          prometheus.Counter
	roundingWarnings prometheus.Counter
	saveDuration     prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		idsAllocated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ids_allocated_total",
			Help:      "Local identifiers handed out, by entity name.",
		}, []string{"entity"}),
		recordsSaved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_saved_total",
			Help:      "Records accepted by the persistence gateway.",
		}),
		saveFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_failures_total",
			Help:      "Saves that returned an error.",
		}),
		orphans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_records_total",
			Help:      "Records left unplaced when rebuilding a tree.",
		}),
		roundingWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounding_warnings_total",
			Help:      "Sampling nodes skipped for a non-positive ratio.",
		}),
		saveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_duration_seconds",
			Help:      "Duration of a full save round trip.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IDsAllocated(entity string, n int) {
	m.idsAllocated.WithLabelValues(entity).Add(float64(n))
}

func (m *Metrics) RoundingWarning() { m.roundingWarnings.Inc() }

func (m *Metrics) RecordsSaved(n int) { m.recordsSaved.Add(float64(n)) }

func (m *Metrics) SaveFailed() { m.saveFailures.Inc() }

func (m *Metrics) Orphans(n int) { m.orphans.Add(float64(n)) }

// SaveTimer starts a timer that records into the save duration histogram
// when ObserveDuration is called.
func (m *Metrics) SaveTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.saveDuration)
}
