package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/ledgernet/internal/wire"
)

// DefaultNamespace prefixes every collector name.
const DefaultNamespace = "ledgernet"

// Decode error kinds used as label values.
const (
	KindMalformedHeader = "malformed_header"
	KindOversizedBody   = "oversized_body"
	KindTruncatedBody   = "truncated_body"
	KindOther           = "other"
)

// Metrics holds the node's Prometheus collectors.
type Metrics struct {
	connectionsActive   prometheus.Gauge
	connectionsTotal    *prometheus.CounterVec
	connectionsRejected *prometheus.CounterVec
	messagesReceived    *prometheus.CounterVec
	messagesSent        *prometheus.CounterVec
	broadcasts          prometheus.Counter
	broadcastReceivers  prometheus.Histogram
	decodeErrors        *prometheus.CounterVec
	lagEvents           prometheus.Counter
	lagMissed           prometheus.Counter
	acceptErrors        prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of peer sessions currently open",
		}),
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of peer sessions started",
		}, []string{"transport"}),
		connectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections refused before a session started",
		}, []string{"reason"}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of frames read from peers",
		}, []string{"type"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of frames written to peers",
		}, []string{"source"}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_published_total",
			Help:      "Total number of messages published to the broadcast channel",
		}),
		broadcastReceivers: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_receivers",
			Help:      "Number of live subscribers at publish time",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of frames that failed to decode",
		}, []string{"kind"}),
		lagEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lag_events_total",
			Help:      "Total number of times a subscriber fell behind the broadcast ring",
		}),
		lagMissed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lag_missed_messages_total",
			Help:      "Total number of broadcast messages skipped by lagging subscribers",
		}),
		acceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Total number of failed accept calls",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SessionOpened records a new session on the given transport ("tcp", "ws").
func (m *Metrics) SessionOpened(transport string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(transport).Inc()
	m.connectionsActive.Inc()
}

// SessionClosed records the end of a session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// ConnectionRejected records a connection dropped before its session started.
func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

// MessageReceived records an inbound frame.
func (m *Metrics) MessageReceived(t wire.MessageType) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(t.String()).Inc()
}

// MessageSent records an outbound frame. source is "broadcast", "direct" or
// "response".
func (m *Metrics) MessageSent(source string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(source).Inc()
}

// Published records a broadcast publish and its receiver count.
func (m *Metrics) Published(receivers int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.broadcastReceivers.Observe(float64(receivers))
}

// DecodeError records a frame decode failure, classified by kind.
func (m *Metrics) DecodeError(err error) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(DecodeErrorKind(err)).Inc()
}

// Lagged records a subscriber that skipped missed messages.
func (m *Metrics) Lagged(missed uint64) {
	if m == nil {
		return
	}
	m.lagEvents.Inc()
	m.lagMissed.Add(float64(missed))
}

// AcceptError records a failed accept.
func (m *Metrics) AcceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

// DecodeErrorKind maps a wire decode error to its label value.
func DecodeErrorKind(err error) string {
	switch {
	case errors.Is(err, wire.ErrOversizedBody):
		return KindOversizedBody
	case errors.Is(err, wire.ErrMalformedHeader):
		return KindMalformedHeader
	case errors.Is(err, wire.ErrTruncatedBody):
		return KindTruncatedBody
	default:
		return KindOther
	}
}
