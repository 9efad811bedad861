// Package ws implements the per-reviewer WebSocket push channel.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/arbiterhq/arbiter/internal/domain/event"
	"github.com/arbiterhq/arbiter/internal/port/broadcast"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub upgrades HTTP connections and registers one push channel per
// connected reviewer with the broadcaster registry.
type Hub struct {
	broadcaster broadcast.Broadcaster
}

// NewHub creates a hub registering channels with the given broadcaster.
func NewHub(broadcaster broadcast.Broadcaster) *Hub {
	return &Hub{broadcaster: broadcaster}
}

// HandleWS upgrades the connection and registers it for the reviewer named
// by the user_id query parameter. The registration lives until the peer
// disconnects or a delivery fails.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "user_id", userID, "error", err)
		return
	}

	sink := &wsSink{conn: conn}
	h.broadcaster.Register(userID, sink)
	slog.Info("websocket connected", "user_id", userID, "remote", r.RemoteAddr)

	// Read loop: consume pings and detect disconnects. Uses a background
	// context because r.Context() ends when this handler returns. Cleanup
	// passes the sink so a reconnect that already replaced this channel is
	// not torn down with it.
	go func() {
		defer h.broadcaster.Unregister(userID, sink)
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				slog.Info("websocket disconnected", "user_id", userID)
				return
			}
		}
	}()
}

// wsSink adapts one WebSocket connection to the broadcast sink port.
type wsSink struct {
	conn *websocket.Conn
}

// Deliver marshals the event into the message envelope and writes it.
func (s *wsSink) Deliver(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Message{
		Type:    string(ev.Kind),
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the underlying connection.
func (s *wsSink) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
