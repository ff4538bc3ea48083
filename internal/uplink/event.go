package uplink

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrStorageBusy    = errors.New("storage busy")
	ErrQueueClosed    = errors.New("queue closed")
	ErrNotImplemented = errors.New("not implemented")
)

// ScanEvent is one token-scan occurrence as reported by the scan producer.
// It is immutable after creation and matches the wire payload one to one.
type ScanEvent struct {
	TokenID   string `json:"tokenId"`
	TeamID    string `json:"teamId,omitempty"`
	DeviceID  string `json:"deviceId"`
	Timestamp string `json:"timestamp"`
}

// Valid reports whether the event carries every required field.
func (e ScanEvent) Valid() bool {
	return strings.TrimSpace(e.TokenID) != "" &&
		strings.TrimSpace(e.DeviceID) != "" &&
		strings.TrimSpace(e.Timestamp) != ""
}

// encodeRecord serializes an event as one queue log line (without the
// trailing newline).
func encodeRecord(e ScanEvent) ([]byte, error) {
	if !e.Valid() {
		return nil, ErrInvalidInput
	}
	return json.Marshal(e)
}

// decodeRecord parses one queue log line back into an event. A line that is
// not valid JSON or is missing required fields is rejected as a whole; no
// sub-line recovery is attempted.
func decodeRecord(line []byte) (ScanEvent, error) {
	var e ScanEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return ScanEvent{}, err
	}
	if !e.Valid() {
		return ScanEvent{}, ErrInvalidInput
	}
	return e, nil
}
