// Package metrics exposes Prometheus collectors for the sync core.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airsync"

type Collector struct {
	registry *prometheus.Registry

	storeMutations   *prometheus.CounterVec
	observerPanics   prometheus.Counter
	entries          prometheus.Gauge
	viewUpdates      *prometheus.CounterVec
	lockDenied       prometheus.Counter
	batchCommits     prometheus.Counter
	batchSize        prometheus.Histogram
	bridgeMirrors    *prometheus.CounterVec
	migrationItems   *prometheus.CounterVec
	editSessionsOpen prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		storeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_mutations_total",
			Help:      "Entity store mutations by operation and result.",
		}, []string{"op", "result"}),
		observerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_panics_total",
			Help:      "Observer and view callbacks that panicked.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Air entries currently held by the store.",
		}),
		viewUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_updates_total",
			Help:      "Updates delivered to registered views.",
		}, []string{"kind", "origin"}),
		lockDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_lock_denied_total",
			Help:      "Edit session requests refused because another view holds the lock.",
		}),
		batchCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_commits_total",
			Help:      "Queued patch batches merged and committed.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of queued patches merged per committed batch.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		bridgeMirrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_mirrors_total",
			Help:      "Legacy bridge mirror operations by direction and action.",
		}, []string{"direction", "action"}),
		migrationItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_items_total",
			Help:      "Legacy items processed during migration by result.",
		}, []string{"result"}),
		editSessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edit_session_active",
			Help:      "1 while an edit session holds the lock.",
		}),
	}

	c.registry.MustRegister(
		c.storeMutations,
		c.observerPanics,
		c.entries,
		c.viewUpdates,
		c.lockDenied,
		c.batchCommits,
		c.batchSize,
		c.bridgeMirrors,
		c.migrationItems,
		c.editSessionsOpen,
	)
	return c
}

// Registry returns the registry holding every airsync collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) StoreMutation(op string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.storeMutations.WithLabelValues(op, result).Inc()
}

func (c *Collector) SetEntries(n int) {
	if c == nil {
		return
	}
	c.entries.Set(float64(n))
}

func (c *Collector) ObserverPanic() {
	if c == nil {
		return
	}
	c.observerPanics.Inc()
}

func (c *Collector) ViewUpdate(kind, origin string) {
	if c == nil {
		return
	}
	c.viewUpdates.WithLabelValues(kind, origin).Inc()
}

func (c *Collector) LockDenied() {
	if c == nil {
		return
	}
	c.lockDenied.Inc()
}

func (c *Collector) EditSession(active bool) {
	if c == nil {
		return
	}
	if active {
		c.editSessionsOpen.Set(1)
		return
	}
	c.editSessionsOpen.Set(0)
}

func (c *Collector) BatchCommit(size int) {
	if c == nil {
		return
	}
	c.batchCommits.Inc()
	c.batchSize.Observe(float64(size))
}

func (c *Collector) BridgeMirror(direction, action string) {
	if c == nil {
		return
	}
	c.bridgeMirrors.WithLabelValues(direction, action).Inc()
}

func (c *Collector) MigrationItem(err error) {
	if c == nil {
		return
	}
	result := "migrated"
	if err != nil {
		result = "failed"
	}
	c.migrationItems.WithLabelValues(result).Inc()
}
