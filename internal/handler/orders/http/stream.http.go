package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dexrouter/swap-service/internal/entity"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadDeadline = 60 * time.Second
	wsReadLimit    = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamOrder upgrades to a WebSocket and streams the order's status
// events: persisted history first, then live events until a terminal
// status is delivered or the client goes away.
func (h *Handler) StreamOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	if _, err := h.store.Get(r.Context(), orderID); err != nil {
		if errors.Is(err, entity.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Subscribe before replaying history so nothing published in
	// between is missed; sequence numbers dedup the overlap.
	sub := h.fanout.Subscribe(orderID)
	defer h.fanout.Unsubscribe(sub)

	history, err := h.store.ListEvents(r.Context(), orderID)
	if err != nil {
		logrus.WithField("orderID", orderID).Errorf("list events: %v", err)
		return
	}

	var lastSeq int64
	terminal := false
	for _, event := range history {
		if err := writeStatusEvent(conn, event); err != nil {
			return
		}
		lastSeq = event.Sequence
		if event.Status.Terminal() {
			terminal = true
		}
	}
	if terminal {
		sendClose(conn)
		return
	}

	disconnected := make(chan struct{})
	go readLoop(conn, disconnected)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-sub.Events():
			if event.Sequence <= lastSeq {
				continue
			}
			if err := writeStatusEvent(conn, event); err != nil {
				return
			}
			lastSeq = event.Sequence
			if event.Status.Terminal() {
				sendClose(conn)
				return
			}
		case <-sub.Done():
			sendClose(conn)
			return
		case <-disconnected:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs are processed and close
// frames surface as a read error.
func readLoop(conn *websocket.Conn, disconnected chan<- struct{}) {
	defer close(disconnected)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeStatusEvent(conn *websocket.Conn, event entity.StatusEvent) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(mapStatusEventToHTTPResponse(event))
}

func sendClose(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
