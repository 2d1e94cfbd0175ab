package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"segtransfer/internal/session"
)

// Metrics aggregates transfer counters for the scrape endpoint. All
// counters live on a private registry so tests can create isolated
// instances.
type Metrics struct {
	registry *prometheus.Registry

	transfersStarted   prometheus.Counter
	transfersCompleted prometheus.Counter
	transfersAborted   prometheus.Counter
	segmentsDelivered  prometheus.Counter
	corruptionEvents   prometheus.Counter
	retransmissions    prometheus.Counter
	bytesTransferred   prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transfersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtransfer_transfers_started_total",
			Help: "Number of transfers started.",
		}),
		transfersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtransfer_transfers_completed_total",
			Help: "Number of transfers that delivered every segment.",
		}),
		transfersAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtransfer_transfers_aborted_total",
			Help: "Number of transfers aborted before completion.",
		}),
		segmentsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtransfer_segments_delivered_total",
			Help: "Number of segments acknowledged by the receiver.",
		}),
		corruptionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtransfer_corruption_events_total",
			Help: "Number of segments rejected for checksum or framing defects.",
		}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtransfer_retransmissions_total",
			Help: "Number of segment retransmissions across all transfers.",
		}),
		bytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segtransfer_bytes_transferred_total",
			Help: "Bytes delivered by completed transfers.",
		}),
	}

	m.registry.MustRegister(
		m.transfersStarted,
		m.transfersCompleted,
		m.transfersAborted,
		m.segmentsDelivered,
		m.corruptionEvents,
		m.retransmissions,
		m.bytesTransferred,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Sink returns an event sink that feeds transfer events into the
// counters. It can be fanned in alongside other sinks.
func (m *Metrics) Sink() session.Sink {
	return func(ev session.Event) {
		switch e := ev.(type) {
		case session.TransferStart:
			m.transfersStarted.Inc()
		case session.SegmentStatus:
			if e.Status == session.StatusError {
				m.corruptionEvents.Inc()
			} else {
				m.segmentsDelivered.Inc()
			}
		case session.TransferComplete:
			m.retransmissions.Add(float64(e.Stats.Retransmissions))
			if e.Success {
				m.transfersCompleted.Inc()
				m.bytesTransferred.Add(float64(e.Stats.FileSize))
			} else {
				m.transfersAborted.Inc()
			}
		}
	}
}
