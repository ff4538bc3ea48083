package uplink

import "context"

// RouteResult tells the caller what happened to a scan, for user feedback.
// Delivery is best-effort and asynchronous from the user's perspective:
// both Delivered and Queued mean "received"; only Dropped should ever
// degrade the acknowledgement, and only storage exhaustion produces it.
type RouteResult int

const (
	RouteDelivered RouteResult = iota
	RouteQueued
	RouteDropped
)

func (r RouteResult) String() string {
	switch r {
	case RouteDelivered:
		return "delivered"
	case RouteQueued:
		return "queued"
	case RouteDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// SingleSubmitter is the slice of Client the router needs.
type SingleSubmitter interface {
	SendOne(ctx context.Context, event ScanEvent) SendOutcome
}

// Router is the synchronous decision point on the foreground path: deliver
// immediately while the service is up, queue otherwise, and fall back to
// the queue when an immediate delivery fails. It never waits on the sync
// worker and never blocks past the single-send timeout.
type Router struct {
	client  SingleSubmitter
	queue   EventQueue
	tracker *StateTracker
	logger  Logger
}

func NewRouter(client SingleSubmitter, queue EventQueue, tracker *StateTracker, logger Logger) *Router {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Router{client: client, queue: queue, tracker: tracker, logger: logger}
}

// Route consumes one scan event.
func (r *Router) Route(ctx context.Context, event ScanEvent) RouteResult {
	if !event.Valid() {
		r.logger.Printf("router: dropping invalid scan event")
		scansDroppedTotal.Inc()
		return RouteDropped
	}

	if r.tracker.ServiceUp() {
		outcome := r.client.SendOne(ctx, event)
		if outcome.Accepted {
			scansDeliveredTotal.Inc()
			return RouteDelivered
		}
		r.logger.Printf("router: immediate delivery failed (status=%d err=%v), queueing",
			outcome.StatusCode, outcome.Err)
	}

	if err := r.queue.Enqueue(event); err != nil {
		// Lost-event risk: surfaced, never fatal, never blocking.
		r.logger.Printf("router: queueing scan %s failed: %v", event.TokenID, err)
		scansDroppedTotal.Inc()
		return RouteDropped
	}
	scansQueuedTotal.Inc()
	return RouteQueued
}
