// Package scansource produces scan events for the router. The hardware
// reader is out of scope; a source is anything that can hand over scans as
// they happen, whether pushed in-process or dropped into a spool directory
// by a reader daemon.
package scansource

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokenworks/uplink/internal/uplink"
)

// Source delivers scan events until its context ends. Events() is closed
// when the source stops.
type Source interface {
	Events() <-chan uplink.ScanEvent
	Run(ctx context.Context) error
}

// NewScanEvent stamps a raw token read with the device identity and the
// current time.
func NewScanEvent(tokenID, teamID, deviceID string) uplink.ScanEvent {
	return uplink.ScanEvent{
		TokenID:   strings.TrimSpace(tokenID),
		TeamID:    strings.TrimSpace(teamID),
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewScanID returns a fresh identifier for tracing one scan through logs.
func NewScanID() string {
	return uuid.NewString()
}

// PushSource is an in-process source fed by direct Submit calls, for
// embedders that produce scans themselves rather than reading a spool.
type PushSource struct {
	events chan uplink.ScanEvent
}

func NewPushSource(buffer int) *PushSource {
	if buffer <= 0 {
		buffer = 16
	}
	return &PushSource{events: make(chan uplink.ScanEvent, buffer)}
}

func (s *PushSource) Events() <-chan uplink.ScanEvent {
	return s.events
}

// Submit hands one event to the consumer. It fails fast when the buffer is
// full or the context ends; the caller decides whether that is a drop.
func (s *PushSource) Submit(ctx context.Context, event uplink.ScanEvent) error {
	if !event.Valid() {
		return uplink.ErrInvalidInput
	}
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until ctx ends, then closes the event channel.
func (s *PushSource) Run(ctx context.Context) error {
	<-ctx.Done()
	close(s.events)
	return nil
}
