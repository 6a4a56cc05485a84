package statehub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by statehub primitives.
//
// A nil *Metrics is valid and records nothing, so primitives can be used
// without a registry.
type Metrics struct {
	cacheRequests *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	rollbacks     *prometheus.CounterVec
	loads         *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics creates the statehub collectors and registers them with reg.
//
// Returns an error if any collector is already registered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statehub",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache fetches by collection and result (hit or miss)",
		}, []string{"collection", "result"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statehub",
			Subsystem: "gateway",
			Name:      "mutations_total",
			Help:      "Optimistic mutations by collection, operation and result",
		}, []string{"collection", "op", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statehub",
			Subsystem: "gateway",
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations rolled back after a failed confirmation",
		}, []string{"collection"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statehub",
			Subsystem: "loader",
			Name:      "loads_total",
			Help:      "Completed load cycles by collection and result",
		}, []string{"collection", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statehub",
			Subsystem: "channel",
			Name:      "published_total",
			Help:      "Messages published on notification channels",
		}, []string{"channel"}),
	}

	for _, c := range []prometheus.Collector{m.cacheRequests, m.mutations, m.rollbacks, m.loads, m.notifications} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) cacheRequest(collection string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(collection, result).Inc()
}

func (m *Metrics) mutation(collection string, op Op, result string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(collection, op.String(), result).Inc()
}

func (m *Metrics) rollback(collection string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(collection).Inc()
}

func (m *Metrics) load(collection string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.loads.WithLabelValues(collection, result).Inc()
}

func (m *Metrics) notificationPublished(channel string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel).Inc()
}
