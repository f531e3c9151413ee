package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// eventSource is the optional live-tail capability of an Auditor. When the
// wired auditor implements it, GET /events upgrades to a websocket that
// streams each new audit record as a JSON message.
type eventSource interface {
	Subscribe() (<-chan map[string]any, func())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin surface is same-host by design; token auth already ran in
	// the middleware chain before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const eventWriteTimeout = 10 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	source, ok := s.audit.(eventSource)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "events_unsupported"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	events, cancel := source.Subscribe()
	defer cancel()

	// Reader goroutine: the client sends nothing we care about, but reading
	// is what surfaces close frames and dead connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
