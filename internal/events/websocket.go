package events

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WSHandler streams hub events to websocket clients. Mounted by the daemon
// at /events; each connection gets its own subscription, optionally
// filtered by ?topic= query parameters.
type WSHandler struct {
	hub    *Hub
	logger *slog.Logger
}

// NewWSHandler creates a websocket event handler backed by hub.
func NewWSHandler(hub *Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The daemon binds to loopback; cross-origin checks add nothing.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))

		return
	}

	defer conn.Close(websocket.StatusNormalClosure, "")

	var topics []Topic
	for _, t := range r.URL.Query()["topic"] {
		topics = append(topics, Topic(t))
	}

	ch, cancel := h.hub.Subscribe(topics...)
	defer cancel()

	h.logger.Debug("websocket subscriber connected",
		slog.String("remote", r.RemoteAddr),
		slog.Int("topics", len(topics)),
	)

	h.stream(r.Context(), conn, ch)
}

// stream writes hub events to the connection until the client goes away or
// the subscription is torn down.
func (h *WSHandler) stream(ctx context.Context, conn *websocket.Conn, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			if err := wsjson.Write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("websocket write failed, dropping subscriber",
						slog.String("error", err.Error()),
					)
				}

				return
			}
		}
	}
}
