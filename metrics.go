package rowinserter

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one process. A nil *Metrics
// records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	inserts        *prometheus.CounterVec
	insertDuration prometheus.Histogram
	poolInits      *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rowinserter_inserts_total",
			Help: "Insert attempts by outcome.",
		}, []string{"outcome"}),
		insertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rowinserter_insert_duration_seconds",
			Help:    "Time spent checking out a connection and inserting a row.",
			Buckets: prometheus.DefBuckets,
		}),
		poolInits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rowinserter_pool_initializations_total",
			Help: "Pool initialization attempts by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.inserts,
		m.insertDuration,
		m.poolInits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) insertResult(err *InsertError, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = err.Kind.String()
	}
	m.inserts.WithLabelValues(outcome).Inc()
	m.insertDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) poolInit(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.poolInits.WithLabelValues(result).Inc()
}

// observePool exports the usage of the manager's pool as gauges. They read
// zero while the manager is UNINITIALIZED.
func (m *Metrics) observePool(pm *PoolManager) {
	if m == nil {
		return
	}
	gauge := func(name, help string, read func(PoolStats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			p := pm.Pool()
			if p == nil {
				return 0
			}
			return float64(read(p.Stats()))
		})
	}
	m.registry.MustRegister(
		gauge("rowinserter_pool_max_open_connections", "Maximum open connections.", func(s PoolStats) int { return s.MaxOpen }),
		gauge("rowinserter_pool_open_connections", "Open physical connections.", func(s PoolStats) int { return s.Open }),
		gauge("rowinserter_pool_in_use_connections", "Connections checked out.", func(s PoolStats) int { return s.InUse }),
		gauge("rowinserter_pool_idle_connections", "Idle connections.", func(s PoolStats) int { return s.Idle }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rowinserter_pool_ready",
			Help: "1 once the pool has been initialized.",
		}, func() float64 {
			if pm.State() == StateReady {
				return 1
			}
			return 0
		}),
	)
}
