// Package events broadcasts assistant state changes as JSON over a local
// websocket, for desktop widgets or anything else that wants a live view.
// Delivery is best effort; a slow or dead client loses events, never the
// other way around.
package events

import (
	log "log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// sendBuffer is how many events a client may fall behind before
	// events are discarded for it.
	sendBuffer = 16

	writeTimeout = 5 * time.Second
)

// Event is one state change on the feed.
type Event struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

type Hub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]chan Event
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]chan Event),
	}
}

// Serve blocks, listening on addr with the feed at /events.
func (h *Hub) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.handleEvents)
	log.Info("Event feed listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("Event feed upgrade failed", "err", err)
		return
	}

	ch := make(chan Event, sendBuffer)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()

	// One writer per client so a stalled socket never blocks Publish.
	go func() {
		for ev := range ch {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	// Drain (and discard) client frames so pings are answered and closes
	// are noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Publish fans an event out to every connected client. It never blocks: a
// client whose buffer is full misses the event.
func (h *Hub) Publish(kind, message string) {
	ev := Event{Kind: kind, Message: message, At: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.conns {
		select {
		case ch <- ev:
		default:
		}
	}
}

// drop unregisters a client. Safe to call from both the reader and the
// writer; only the first call acts. The send channel is closed under the
// same lock Publish sends under.
func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.conns[conn]
	if !ok {
		return
	}
	delete(h.conns, conn)
	close(ch)
	conn.Close()
}
