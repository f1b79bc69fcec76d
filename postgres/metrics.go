package postgres

import "github.com/prometheus/client_golang/prometheus"

// PoolMetrics publishes pool occupancy as Prometheus gauges. Each instance
// carries a single "pool" label value, so pools sharing one instance
// overwrite each other's readings; several pools can publish through the
// same registerer by each using its own instance with a distinct name.
type PoolMetrics struct {
	name string

	active  prometheus.Gauge
	idle    prometheus.Gauge
	waiters prometheus.Gauge
	maxSize prometheus.Gauge
}

// NewPoolMetrics builds a PoolMetrics and registers its collectors with reg.
// name distinguishes multiple pools registered against the same registerer.
func NewPoolMetrics(reg prometheus.Registerer, name string) *PoolMetrics {
	m := &PoolMetrics{
		name: name,
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "postgres_pool",
			Name:        "active_connections",
			Help:        "Connections currently checked out of the pool.",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "postgres_pool",
			Name:        "idle_connections",
			Help:        "Connections sitting idle in the pool.",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "postgres_pool",
			Name:        "waiters",
			Help:        "Goroutines blocked waiting for a free connection.",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
		maxSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "postgres_pool",
			Name:        "max_size",
			Help:        "Configured maximum pool size.",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
	}

	if reg != nil {
		reg.MustRegister(m.active, m.idle, m.waiters, m.maxSize)
	}
	return m
}

func (m *PoolMetrics) report(active, idle, waiters, maxSize int) {
	if m == nil {
		return
	}
	m.active.Set(float64(active))
	m.idle.Set(float64(idle))
	m.waiters.Set(float64(waiters))
	m.maxSize.Set(float64(maxSize))
}
