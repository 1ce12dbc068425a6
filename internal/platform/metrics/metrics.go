package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Process-wide counters registered on the default registry.
// Keep cardinality low: route patterns, not raw paths.
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_http_requests_total",
		Help: "HTTP requests served, by method, route pattern and status class.",
	}, []string{"method", "pattern", "status"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_events_published_total",
		Help: "Events accepted by the bus adapter, by topic.",
	}, []string{"topic"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_events_dropped_total",
		Help: "Events dropped because a subscriber channel was full, by topic.",
	}, []string{"topic"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agora_outbox_published_total",
		Help: "Outbox rows relayed to the bus, by source service.",
	}, []string{"service"})
)

// Handler exposes the default registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
