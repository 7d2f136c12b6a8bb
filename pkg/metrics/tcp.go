package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TCPMetrics provides observability for the TCP adapter.
//
// Implementations collect metrics about the request/response cycle,
// connection lifecycle, and session outcomes. The interface is optional -
// if not provided to the adapter, a no-op implementation is used.
type TCPMetrics interface {
	// RecordRequest records one completed request/response cycle with its
	// duration and outcome.
	RecordRequest(duration time.Duration, err error)

	// RecordSessionClosed records a session reaching its terminal state,
	// labelled with the close cause classification (e.g. "peer_closed",
	// "timeout", "decode_error", "shutdown").
	RecordSessionClosed(cause string)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()
}

// tcpMetrics is the Prometheus implementation of TCPMetrics.
type tcpMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     prometheus.Histogram
	sessionsClosed      *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
}

// NewTCPMetrics creates a Prometheus-backed TCPMetrics instance, or a
// no-op implementation if InitRegistry was never called.
func NewTCPMetrics() TCPMetrics {
	if !IsEnabled() {
		return &noopTCPMetrics{}
	}

	reg := GetRegistry()

	return &tcpMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgserver_requests_total",
				Help: "Total number of framed requests by status",
			},
			[]string{"status"},
		),
		requestDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "msgserver_request_duration_seconds",
				Help:    "Duration of the read-decode-dispatch-encode-write cycle in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),
		sessionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "msgserver_sessions_closed_total",
				Help: "Total number of sessions closed by cause",
			},
			[]string{"cause"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "msgserver_active_connections",
				Help: "Current number of active client connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "msgserver_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "msgserver_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
	}
}

func (m *tcpMetrics) RecordRequest(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.requestsTotal.WithLabelValues(status).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

func (m *tcpMetrics) RecordSessionClosed(cause string) {
	m.sessionsClosed.WithLabelValues(cause).Inc()
}

func (m *tcpMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *tcpMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *tcpMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

// noopTCPMetrics is a no-op implementation of TCPMetrics with zero overhead.
type noopTCPMetrics struct{}

func (noopTCPMetrics) RecordRequest(duration time.Duration, err error) {}
func (noopTCPMetrics) RecordSessionClosed(cause string)                {}
func (noopTCPMetrics) SetActiveConnections(count int32)                {}
func (noopTCPMetrics) RecordConnectionAccepted()                       {}
func (noopTCPMetrics) RecordConnectionClosed()                         {}
