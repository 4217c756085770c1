// Package wtmetrics exposes Prometheus counters and gauges for session
// and stream lifecycle events, grounded on the same registry-plus-http
// serving shape the host repository's own status server uses
// (internal/metrics/web.go's WebServer), built here against real
// prometheus Counter/CounterVec/Gauge instruments rather than hand-formatted
// text.
package wtmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every instrument this module's carrier and session
// layers report to, plus the registry they're registered against.
type Collector struct {
	registry *prometheus.Registry

	SessionsOpened   prometheus.Counter
	SessionsClosed   prometheus.Counter
	SessionsActive   prometheus.Gauge
	StreamsOpened    *prometheus.CounterVec // label: direction ("bidi", "uni")
	StreamsResetByPeer prometheus.Counter
	DatagramsSent    prometheus.Counter
	DatagramsDropped *prometheus.CounterVec // label: reason ("too_big", "no_capacity")
	DatagramsReceived prometheus.Counter
}

// NewCollector builds and registers every instrument against a fresh
// registry, also pulling in the Go runtime and process collectors the
// way the host repository's NewWebServer does when handed a nil
// registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webtransport",
			Name:      "sessions_opened_total",
			Help:      "WebTransport sessions that became ready.",
		}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webtransport",
			Name:      "sessions_closed_total",
			Help:      "WebTransport sessions that reached terminal close.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webtransport",
			Name:      "sessions_active",
			Help:      "WebTransport sessions currently open.",
		}),
		StreamsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webtransport",
			Name:      "streams_opened_total",
			Help:      "Incoming streams announced to a session's visitor, by direction.",
		}, []string{"direction"}),
		StreamsResetByPeer: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webtransport",
			Name:      "streams_reset_by_peer_total",
			Help:      "Streams that received a peer-initiated RESET_STREAM.",
		}),
		DatagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webtransport",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams successfully handed to the carrier.",
		}),
		DatagramsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webtransport",
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams that could not be sent, by reason.",
		}, []string{"reason"}),
		DatagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webtransport",
			Name:      "datagrams_received_total",
			Help:      "Datagrams delivered to a session's visitor.",
		}),
	}

	reg.MustRegister(
		c.SessionsOpened, c.SessionsClosed, c.SessionsActive,
		c.StreamsOpened, c.StreamsResetByPeer,
		c.DatagramsSent, c.DatagramsDropped, c.DatagramsReceived,
	)
	return c
}

// Handler returns an http.Handler serving this collector's registry in
// the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ListenAndServe starts a minimal metrics server: /metrics for
// Prometheus scraping and /healthz for a liveness probe, mirroring the
// host repository's own WebServer.Start route table at a much smaller
// scope (this module has no status HTML page to serve).
func (c *Collector) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(addr, mux)
}
