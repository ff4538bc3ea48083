package uplink

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics. Global, label-free: one agent process serves one
// device, so there is no cardinality to manage.
var (
	scansDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_scans_delivered_total",
		Help: "Scans delivered to the orchestrator on the foreground path",
	})
	scansQueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_scans_queued_total",
		Help: "Scans routed to the persistent queue",
	})
	scansDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_scans_dropped_total",
		Help: "Scans lost because both delivery and queueing failed",
	})
	batchesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_batches_sent_total",
		Help: "Queue batches accepted by the orchestrator",
	})
	batchFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_batch_failures_total",
		Help: "Queue batches that failed and stayed queued",
	})
	probeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uplink_probe_failures_total",
		Help: "Liveness probes that did not get a 2xx",
	})
	drainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "uplink_drain_duration_seconds",
		Help:    "Wall time of one full drain cycle",
		Buckets: prometheus.DefBuckets,
	})

	queueDepthSource atomic.Pointer[func() int]
	connStateSource  atomic.Pointer[func() int]

	queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "uplink_queue_depth",
		Help: "Cached record count of the persistent queue",
	}, func() float64 {
		if source := queueDepthSource.Load(); source != nil {
			return float64((*source)())
		}
		return 0
	})
	connStateGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "uplink_connection_state",
		Help: "Connection state: 0 disconnected, 1 link up, 2 service up",
	}, func() float64 {
		if source := connStateSource.Load(); source != nil {
			return float64((*source)())
		}
		return 0
	})
)

func init() {
	prometheus.MustRegister(
		scansDeliveredTotal, scansQueuedTotal, scansDroppedTotal,
		batchesSentTotal, batchFailuresTotal, probeFailuresTotal,
		drainDuration, queueDepth, connStateGauge,
	)
}

// WireMetrics points the depth and state gauges at the live queue and
// tracker. Safe to call once at startup before traffic.
func WireMetrics(queue EventQueue, tracker *StateTracker) {
	if queue != nil {
		source := func() int { return queue.Size() }
		queueDepthSource.Store(&source)
	}
	if tracker != nil {
		source := func() int { return int(tracker.Get()) }
		connStateSource.Store(&source)
	}
}
