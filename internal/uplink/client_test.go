package uplink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, "dev_test", ClientOptions{})
	require.NoError(t, err)
	return client, server
}

func TestNewClientRejectsEmptyBase(t *testing.T) {
	_, err := NewClient("   ", "dev_test", ClientOptions{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendOneStatusClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		accepted bool
	}{
		{"ok", http.StatusOK, true},
		{"created", http.StatusCreated, true},
		{"duplicate", http.StatusConflict, true},
		{"bad request", http.StatusBadRequest, false},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(t, "/scan", r.URL.Path)
				require.Equal(t, "application/json", r.Header.Get("Content-Type"))
				require.Equal(t, "dev_test", r.Header.Get("X-Device-Id"))
				w.WriteHeader(tc.status)
			}))

			outcome := client.SendOne(context.Background(), testEvent("t1"))
			require.Equal(t, tc.accepted, outcome.Accepted)
			require.Equal(t, tc.status, outcome.StatusCode)
			require.False(t, outcome.Failed())
		})
	}
}

func TestSendOneRejectsInvalidEvent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an invalid event")
	}))
	outcome := client.SendOne(context.Background(), ScanEvent{})
	require.False(t, outcome.Accepted)
	require.ErrorIs(t, outcome.Err, ErrInvalidInput)
}

func TestSendOneTransportFailure(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	outcome := client.SendOne(context.Background(), testEvent("t1"))
	require.True(t, outcome.Failed())
	require.False(t, outcome.Accepted)
	require.Error(t, outcome.Err)
}

func TestSendBatchBodyAndClassification(t *testing.T) {
	var got struct {
		Events []ScanEvent `json:"events"`
	}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/scan/batch", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	events := []ScanEvent{testEvent("t1"), testEvent("t2")}
	outcome := client.SendBatch(context.Background(), events)
	require.True(t, outcome.Accepted)
	require.Len(t, got.Events, 2)
	require.Equal(t, "t1", got.Events[0].TokenID)
}

func TestSendBatchConflictStaysQueued(t *testing.T) {
	// A batch 409 does not say which records collided, so it cannot count
	// as delivery.
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	outcome := client.SendBatch(context.Background(), []ScanEvent{testEvent("t1")})
	require.False(t, outcome.Accepted)
	require.Equal(t, http.StatusConflict, outcome.StatusCode)
}

func TestSendBatchEmptyIsTriviallyAccepted(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty batch")
	}))
	outcome := client.SendBatch(context.Background(), nil)
	require.True(t, outcome.Accepted)
}

func TestProbeCarriesDeviceID(t *testing.T) {
	var gotDeviceID string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		gotDeviceID = r.URL.Query().Get("deviceId")
		w.WriteHeader(http.StatusOK)
	}))

	require.True(t, client.Probe(context.Background()))
	require.Equal(t, "dev_test", gotDeviceID)
}

func TestProbeFailsOnServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	require.False(t, client.Probe(context.Background()))
}

func TestFetchTokenDatabase(t *testing.T) {
	payload := []byte(`{"tok_alpha":{"image":"alpha.jpg"}}`)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tokens.json", r.URL.Path)
		_, _ = w.Write(payload)
	}))

	got, err := client.FetchTokenDatabase(context.Background())
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFetchTokenDatabaseNonOK(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	_, err := client.FetchTokenDatabase(context.Background())
	require.Error(t, err)
}
