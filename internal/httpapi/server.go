// Package httpapi is the device's local diagnostics surface. It is meant
// for a technician on the same network segment, not for the orchestrator:
// nothing here participates in scan delivery.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokenworks/uplink/internal/uplink"
)

// DefaultStreamInterval paces the WebSocket status feed.
const DefaultStreamInterval = 2 * time.Second

// SyncReporter exposes the sync worker's bookkeeping to the API.
type SyncReporter interface {
	Status() uplink.SyncStatus
}

// ServerConfig carries the identity fields echoed on the status surface.
type ServerConfig struct {
	DeviceID        string
	TeamID          string
	OrchestratorURL string
	StreamInterval  time.Duration
	MaxBodyBytes    int64
	Logger          uplink.Logger
}

type Server struct {
	queue   uplink.EventQueue
	tracker *uplink.StateTracker
	sync    SyncReporter
	cfg     ServerConfig
	metrics http.Handler
}

func NewServer(queue uplink.EventQueue, tracker *uplink.StateTracker, sync SyncReporter, cfg ServerConfig) *Server {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = DefaultStreamInterval
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 16
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Server{
		queue:   queue,
		tracker: tracker,
		sync:    sync,
		cfg:     cfg,
		metrics: promhttp.Handler(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/metrics" && r.Method == http.MethodGet:
		s.metrics.ServeHTTP(w, r)
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/v1/status/stream" && r.Method == http.MethodGet:
		s.handleStatusStream(w, r)
	case r.URL.Path == "/v1/queue/clear" && r.Method == http.MethodPost:
		s.handleQueueClear(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

// statusBody is one full snapshot of the device.
type statusBody struct {
	DeviceID        string                  `json:"deviceId"`
	TeamID          string                  `json:"teamId,omitempty"`
	OrchestratorURL string                  `json:"orchestratorUrl"`
	ConnectionState string                  `json:"connectionState"`
	Queue           uplink.QueueDiagnostics `json:"queue"`
	Sync            uplink.SyncStatus       `json:"sync"`
	Time            string                  `json:"time"`
}

func (s *Server) snapshot() (statusBody, error) {
	diag, err := s.queue.Diagnostics()
	if err != nil {
		return statusBody{}, err
	}
	body := statusBody{
		DeviceID:        s.cfg.DeviceID,
		TeamID:          s.cfg.TeamID,
		OrchestratorURL: s.cfg.OrchestratorURL,
		ConnectionState: s.tracker.Get().String(),
		Queue:           diag,
		Time:            time.Now().UTC().Format(time.RFC3339),
	}
	if s.sync != nil {
		body.Sync = s.sync.Status()
	}
	return body, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body, err := s.snapshot()
	if err != nil {
		s.cfg.Logger.Printf("httpapi: reading queue diagnostics: %v", err)
		writeError(w, http.StatusServiceUnavailable, "diagnostics_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// handleQueueClear drops every queued scan. Destructive, so the body must
// say {"confirm":true} in as many words.
func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeBody(r, s.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !req.Confirm {
		writeError(w, http.StatusBadRequest, "confirm_required", "body must be {\"confirm\":true}")
		return
	}

	cleared := s.queue.Size()
	if err := s.queue.Clear(); err != nil {
		if errors.Is(err, uplink.ErrStorageBusy) {
			writeError(w, http.StatusConflict, "storage_busy", "queue storage is busy, retry")
			return
		}
		s.cfg.Logger.Printf("httpapi: clearing queue: %v", err)
		writeError(w, http.StatusInternalServerError, "clear_failed", err.Error())
		return
	}
	s.cfg.Logger.Printf("httpapi: queue cleared (%d records dropped)", cleared)
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func decodeBody(r *http.Request, maxBytes int64, out any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return errors.New("request body must be a JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Serve runs the diagnostics listener until ctx ends, then shuts it down
// with a short grace period.
func Serve(ctx context.Context, addr string, server *Server) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
