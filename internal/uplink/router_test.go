package uplink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSingleSubmitter struct {
	outcome SendOutcome
	calls   int
}

func (f *fakeSingleSubmitter) SendOne(ctx context.Context, event ScanEvent) SendOutcome {
	f.calls++
	return f.outcome
}

func newRouterFixture(t *testing.T, state ConnectionState, outcome SendOutcome) (*Router, *fakeSingleSubmitter, EventQueue) {
	t.Helper()
	queue := newTestQueue(t, FileQueueOptions{})
	tracker := NewStateTracker()
	tracker.Set(state)
	submitter := &fakeSingleSubmitter{outcome: outcome}
	return NewRouter(submitter, queue, tracker, nil), submitter, queue
}

func TestRouteDeliversWhenServiceUp(t *testing.T) {
	router, submitter, queue := newRouterFixture(t, StateServiceUp, acceptedOutcome())

	result := router.Route(context.Background(), testEvent("t1"))
	require.Equal(t, RouteDelivered, result)
	require.Equal(t, 1, submitter.calls)
	require.Zero(t, queue.Size())
}

func TestRouteQueuesWhenServiceDown(t *testing.T) {
	router, submitter, queue := newRouterFixture(t, StateLinkUp, acceptedOutcome())

	result := router.Route(context.Background(), testEvent("t1"))
	require.Equal(t, RouteQueued, result)
	require.Zero(t, submitter.calls)
	require.Equal(t, 1, queue.Size())
}

func TestRouteFallsBackToQueueOnSendFailure(t *testing.T) {
	router, submitter, queue := newRouterFixture(t, StateServiceUp,
		SendOutcome{Err: errors.New("connection refused")})

	result := router.Route(context.Background(), testEvent("t1"))
	require.Equal(t, RouteQueued, result)
	require.Equal(t, 1, submitter.calls)
	require.Equal(t, 1, queue.Size())
}

func TestRouteDropsInvalidEvent(t *testing.T) {
	router, submitter, queue := newRouterFixture(t, StateServiceUp, acceptedOutcome())

	result := router.Route(context.Background(), ScanEvent{TokenID: "t1"})
	require.Equal(t, RouteDropped, result)
	require.Zero(t, submitter.calls)
	require.Zero(t, queue.Size())
}

func TestRouteDropsWhenQueueRejects(t *testing.T) {
	queue := newTestQueue(t, FileQueueOptions{LockTimeout: 1})
	tracker := NewStateTracker()
	submitter := &fakeSingleSubmitter{}
	router := NewRouter(submitter, queue, tracker, nil)

	// Hold the storage lock so the enqueue fails fast.
	require.True(t, queue.storage.acquire(0))
	defer queue.storage.release()

	result := router.Route(context.Background(), testEvent("t1"))
	require.Equal(t, RouteDropped, result)
}

func TestRouteResultString(t *testing.T) {
	require.Equal(t, "delivered", RouteDelivered.String())
	require.Equal(t, "queued", RouteQueued.String())
	require.Equal(t, "dropped", RouteDropped.String())
	require.Equal(t, "unknown", RouteResult(42).String())
}
