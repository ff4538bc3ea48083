package uplink

import "sync"

// ConnectionState is the current level of upstream connectivity. The three
// values are ordered: no link, link up, orchestrator reachable.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateLinkUp
	StateServiceUp
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateLinkUp:
		return "link_up"
	case StateServiceUp:
		return "service_up"
	default:
		return "unknown"
	}
}

// StateTracker holds the connection state behind a short-held lock so that
// readers never observe a torn value. It enforces no transition table:
// the sync worker and the link-layer callback are the only writers, and an
// out-of-order transition is corrected by the next probe cycle.
type StateTracker struct {
	mu    sync.Mutex
	state ConnectionState
}

// NewStateTracker starts in StateDisconnected.
func NewStateTracker() *StateTracker {
	return &StateTracker{state: StateDisconnected}
}

func (t *StateTracker) Get() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *StateTracker) Set(state ConnectionState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// HasLink reports whether the network link is up, regardless of whether the
// orchestrator itself is reachable.
func (t *StateTracker) HasLink() bool {
	return t.Get() >= StateLinkUp
}

// ServiceUp reports whether the orchestrator answered the latest probe.
func (t *StateTracker) ServiceUp() bool {
	return t.Get() == StateServiceUp
}
