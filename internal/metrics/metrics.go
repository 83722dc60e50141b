// Package metrics provides Prometheus instrumentation for the crowd engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedIdentities tracks identities with a live connection.
	ConnectedIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crowd_connected_identities",
		Help: "Number of logged-in identities with a live connection",
	})

	// WebSocketClients tracks open sockets, logged in or not.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crowd_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// Logins counts login attempts by outcome.
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"}) // ok, evicted, denied

	// EventsHandled counts inbound events processed by the loop.
	EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_events_handled_total",
		Help: "Inbound events processed, by type",
	}, []string{"type"})

	// EventErrors counts rejected inbound events by error kind.
	EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_event_errors_total",
		Help: "Inbound events rejected, by type and error kind",
	}, []string{"type", "kind"})

	// HandlerLatency tracks time spent inside one loop handler.
	HandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowd_handler_latency_seconds",
		Help:    "Event loop handler latency in seconds",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}, []string{"type"})

	// MessagesSent counts outbound frames queued to sockets.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_messages_sent_total",
		Help: "Outbound frames queued, by type",
	}, []string{"type"})

	// MessagesDropped counts outbound frames a socket refused.
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_messages_dropped_total",
		Help: "Outbound frames dropped, by type",
	}, []string{"type"})

	// EmotionLevel mirrors the live emotion counters.
	EmotionLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crowd_emotion_level",
		Help: "Current emotion counter value",
	}, []string{"emotion"})

	// RoundsSettled counts resolved betting rounds by whether the pot was paid out.
	RoundsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_rounds_settled_total",
		Help: "Betting rounds resolved",
	}, []string{"outcome"}) // paid, burned, empty

	// StakesPlaced counts accepted stakes.
	StakesPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crowd_stakes_placed_total",
		Help: "Stakes accepted into betting rounds",
	})

	// CurrentPot tracks the pot of the open round.
	CurrentPot = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crowd_current_pot",
		Help: "Pot of the currently open betting round",
	})

	// ActionsClosed counts collective actions by terminal status.
	ActionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_actions_closed_total",
		Help: "Collective actions that reached a terminal state",
	}, []string{"status"})

	// ActiveRooms tracks open private rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crowd_active_rooms",
		Help: "Number of open private rooms",
	})

	// LedgerWrites counts settlement records written by outcome.
	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_ledger_writes_total",
		Help: "Settlement ledger writes",
	}, []string{"kind", "outcome"}) // outcome: ok, error, dropped

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crowd_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowd_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
