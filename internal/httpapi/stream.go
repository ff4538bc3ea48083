package httpapi

import (
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleStatusStream upgrades to WebSocket and pushes a status snapshot on
// every interval tick until the client hangs up. Each message is the same
// body GET /v1/status returns.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The diagnostics listener is bound to the device's local
		// network; browser-origin checks do not apply.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.cfg.Logger.Printf("httpapi: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream done")

	ctx := r.Context()
	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	for {
		body, err := s.snapshot()
		if err != nil {
			s.cfg.Logger.Printf("httpapi: stream snapshot: %v", err)
			conn.Close(websocket.StatusInternalError, "diagnostics unavailable")
			return
		}
		if err := wsjson.Write(ctx, conn, body); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
