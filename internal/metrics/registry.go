// Package metrics wraps the Prometheus collectors the Hub publishes to:
// connection gauges, cumulative byte counters, rejection counts,
// per-kind message counters, and per-peer latency gauges. The package
// only registers collectors against a prometheus.Registerer passed in
// by the caller; it never starts an HTTP server itself, matching the
// spec's stance that serving /metrics is an external collaborator's
// job.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainward/peernode/internal/wire"
)

// Direction labels the connection/byte-counter direction dimension.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Registry bundles every collector the Hub updates over its lifetime.
type Registry struct {
	ActiveConnections  *prometheus.GaugeVec
	BytesTotal         *prometheus.CounterVec
	RejectedConnTotal  prometheus.Counter
	MessagesTotal      *prometheus.CounterVec
	PeerLatencyMs      *prometheus.GaugeVec
}

// New builds a Registry and registers every collector against reg.
// Registering the same Registry's collectors twice against the same
// Registerer returns prometheus.AlreadyRegisteredError, which the
// caller may safely ignore if intentional (e.g. in tests that reuse a
// registerer across subtests).
func New(namespace string, reg prometheus.Registerer) (*Registry, error) {
	r := &Registry{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Current number of active peer connections by direction.",
		}, []string{"direction"}),
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Cumulative bytes transferred by direction.",
		}, []string{"direction"}),
		RejectedConnTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "Cumulative count of inbound connections rejected before handshake.",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Cumulative count of messages by kind and direction.",
		}, []string{"kind", "direction"}),
		PeerLatencyMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_latency_ms",
			Help:      "Most recent ping/pong EMA latency per peer, in milliseconds.",
		}, []string{"id"}),
	}

	collectors := []prometheus.Collector{
		r.ActiveConnections, r.BytesTotal, r.RejectedConnTotal, r.MessagesTotal, r.PeerLatencyMs,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveConnectionOpened bumps the active-connection gauge for dir.
func (r *Registry) ObserveConnectionOpened(dir Direction) {
	r.ActiveConnections.WithLabelValues(string(dir)).Inc()
}

// ObserveConnectionClosed decrements the active-connection gauge for dir.
func (r *Registry) ObserveConnectionClosed(dir Direction) {
	r.ActiveConnections.WithLabelValues(string(dir)).Dec()
}

// ObserveBytes adds n to the cumulative byte counter for dir.
func (r *Registry) ObserveBytes(dir Direction, n int) {
	r.BytesTotal.WithLabelValues(string(dir)).Add(float64(n))
}

// ObserveRejectedConnection bumps the rejected-connection counter.
func (r *Registry) ObserveRejectedConnection() {
	r.RejectedConnTotal.Inc()
}

// ObserveMessage bumps the per-kind message counter for dir.
func (r *Registry) ObserveMessage(kind wire.Kind, dir Direction) {
	r.MessagesTotal.WithLabelValues(kind.String(), string(dir)).Inc()
}

// ObservePeerLatency records the current EMA latency for a peer id,
// and clears its series on disconnect via ForgetPeer.
func (r *Registry) ObservePeerLatency(id int64, latencyMs uint64) {
	r.PeerLatencyMs.WithLabelValues(strconv.FormatInt(id, 10)).Set(float64(latencyMs))
}

// ForgetPeer removes a disconnected peer's latency series so the
// registry doesn't grow unbounded over a long-running process.
func (r *Registry) ForgetPeer(id int64) {
	r.PeerLatencyMs.DeleteLabelValues(strconv.FormatInt(id, 10))
}
