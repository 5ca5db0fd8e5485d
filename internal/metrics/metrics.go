// Package metrics registers the agent's Prometheus collectors, grounded on
// the teacher's internal/gateway/metrics_prometheus.go field layout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the agent exposes on /metrics.
type Registry struct {
	ActiveThings     prometheus.Gauge
	TickDuration     prometheus.Histogram
	MQTTConnects     prometheus.Counter
	MQTTConnectFails prometheus.Counter
	AuthRefreshes    *prometheus.CounterVec
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
}

// New registers all collectors against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests to avoid the global default registry's
// cross-test collisions.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		ActiveThings: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "thinghub",
			Name:      "active_things",
			Help:      "Number of things currently in the Active state.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "thinghub",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one lifecycle runner tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		MQTTConnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "thinghub",
			Name:      "mqtt_connects_total",
			Help:      "Successful per-thing MQTT connections established.",
		}),
		MQTTConnectFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: "thinghub",
			Name:      "mqtt_connect_failures_total",
			Help:      "Failed per-thing MQTT connection attempts.",
		}),
		AuthRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thinghub",
			Name:      "auth_refreshes_total",
			Help:      "Auth token refresh attempts, labeled by outcome.",
		}, []string{"outcome"}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "thinghub",
			Name:      "messages_published_total",
			Help:      "Messages published to the cloud over MQTT.",
		}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "thinghub",
			Name:      "messages_received_total",
			Help:      "Messages delivered from the cloud over MQTT.",
		}),
	}
}
