package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tokenworks/uplink/internal/uplink"
)

type fixedSync struct {
	status uplink.SyncStatus
}

func (f fixedSync) Status() uplink.SyncStatus { return f.status }

func newTestServer(t *testing.T) (*Server, uplink.EventQueue, *uplink.StateTracker) {
	t.Helper()
	queue, err := uplink.NewFileQueue(filepath.Join(t.TempDir(), "queue.jsonl"), uplink.FileQueueOptions{})
	require.NoError(t, err)
	_, err = queue.Initialize()
	require.NoError(t, err)

	tracker := uplink.NewStateTracker()
	server := NewServer(queue, tracker, fixedSync{status: uplink.SyncStatus{LastProbeOK: true}}, ServerConfig{
		DeviceID:        "dev_api",
		TeamID:          "001",
		OrchestratorURL: "https://orch.local",
		StreamInterval:  20 * time.Millisecond,
	})
	return server, queue, tracker
}

func enqueueN(t *testing.T, queue uplink.EventQueue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, queue.Enqueue(uplink.ScanEvent{
			TokenID:   "tok_api",
			DeviceID:  "dev_api",
			Timestamp: "2026-08-28T10:00:00Z",
		}))
	}
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusSnapshot(t *testing.T) {
	server, queue, tracker := newTestServer(t)
	tracker.Set(uplink.StateServiceUp)
	enqueueN(t, queue, 3)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "dev_api", body.DeviceID)
	require.Equal(t, "service_up", body.ConnectionState)
	require.Equal(t, 3, body.Queue.CachedSize)
	require.Equal(t, 3, body.Queue.FileLineCount)
	require.True(t, body.Sync.LastProbeOK)
	require.NotEmpty(t, body.Time)
}

func TestQueueClearRequiresConfirmation(t *testing.T) {
	server, queue, _ := newTestServer(t)
	enqueueN(t, queue, 2)

	cases := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "clear please"},
		{"confirm false", `{"confirm":false}`},
		{"unknown field", `{"confirmed":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/clear", strings.NewReader(tc.body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, 2, queue.Size())
		})
	}
}

func TestQueueClear(t *testing.T) {
	server, queue, _ := newTestServer(t)
	enqueueN(t, queue, 2)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/clear", strings.NewReader(`{"confirm":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"cleared":2}`, rec.Body.String())
	require.Zero(t, queue.Size())
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not_found", body["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusStream(t *testing.T) {
	server, queue, tracker := newTestServer(t)
	tracker.Set(uplink.StateLinkUp)
	enqueueN(t, queue, 1)

	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/v1/status/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	var first, second statusBody
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.Equal(t, "link_up", first.ConnectionState)
	require.Equal(t, 1, first.Queue.CachedSize)

	// The feed keeps ticking and reflects new state.
	tracker.Set(uplink.StateServiceUp)
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	require.NotEmpty(t, second.ConnectionState)
}
