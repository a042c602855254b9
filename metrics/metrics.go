// Package metrics exposes the ambient Prometheus instrumentation of the
// transport core, adapted from the teacher's api.Metrics to the
// publish/subscribe and request/reply counters this core actually
// produces.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the core updates.
type Metrics struct {
	PublishesTotal       prometheus.Counter
	LocalDeliveriesTotal prometheus.Counter
	RemoteDeliveriesTotal prometheus.Counter
	DroppedFramesTotal   *prometheus.CounterVec

	DiscoveryConnectionsTotal    *prometheus.CounterVec
	DiscoveryDisconnectionsTotal *prometheus.CounterVec

	PendingRequests      prometheus.Gauge
	RequestLatency       prometheus.Histogram
	RequestTimeoutsTotal prometheus.Counter

	SubscribedTopics prometheus.Gauge
	AdvertisedTopics prometheus.Gauge
}

// New creates and registers metrics under namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		PublishesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Total number of messages published.",
		}),
		LocalDeliveriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_deliveries_total",
			Help:      "Total number of subscriber and service callbacks invoked on the local fast path.",
		}),
		RemoteDeliveriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_deliveries_total",
			Help:      "Total number of publish callbacks invoked for messages received over a socket.",
		}),
		DroppedFramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames dropped by the reception loop, by reason.",
		}, []string{"reason"}),

		DiscoveryConnectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_connections_total",
			Help:      "New remote offerings observed by discovery, by kind.",
		}, []string{"kind"}),
		DiscoveryDisconnectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_disconnections_total",
			Help:      "Remote offerings that disappeared, by kind.",
		}, []string{"kind"}),

		PendingRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Number of requests awaiting a response.",
		}),
		RequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Request/reply round-trip latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		RequestTimeoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_timeouts_total",
			Help:      "Total number of synchronous requests that timed out.",
		}),

		SubscribedTopics: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribed_topics",
			Help:      "Number of distinct topics with at least one local subscriber.",
		}),
		AdvertisedTopics: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "advertised_topics",
			Help:      "Number of distinct topics with at least one local publisher.",
		}),
	}
}

// RecordRequest records a completed request/reply round trip.
func (m *Metrics) RecordRequest(duration time.Duration, timedOut bool) {
	m.RequestLatency.Observe(duration.Seconds())
	if timedOut {
		m.RequestTimeoutsTotal.Inc()
	}
}

// Server runs an HTTP server exposing /metrics, adapted from the
// teacher's api.MetricsServer.
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// StartAsync starts the metrics server in a background goroutine.
func (s *Server) StartAsync() {
	go func() { _ = s.server.ListenAndServe() }()
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop() error {
	return s.server.Close()
}
