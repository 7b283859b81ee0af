package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/devloop-sh/devloop/internal/events"
	"github.com/devloop-sh/devloop/internal/logging"
)

// clientBuffer is the per-subscriber queue depth. A subscriber that falls
// further behind loses its oldest events; the server is never back-pressured
// by a slow websocket.
const clientBuffer = 16

// Hub fans ClientEvents out to websocket subscribers. Sends are lossy with
// drop-oldest semantics and a lagged subscriber never sees duplicates.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch chan events.ClientEvent
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Broadcast queues evt on every subscriber, dropping each subscriber's
// oldest event when its queue is full.
func (h *Hub) Broadcast(evt events.ClientEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		for {
			select {
			case sub.ch <- evt:
			default:
				// full: drop the oldest and retry
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe registers a new subscriber and returns its event channel plus an
// unsubscribe function.
func (h *Hub) Subscribe() (<-chan events.ClientEvent, func()) {
	sub := &subscriber{ch: make(chan events.ClientEvent, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}

var upgrader = websocket.Upgrader{
	// the dev server is same-machine tooling; browsers connect from the
	// pages it serves
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsHandler upgrades the connection and forwards hub events as JSON frames
// until the client goes away or the hub closes.
func (h *Hub) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Debug("ws upgrade failed", zap.Error(err))
			return
		}
		ch, unsubscribe := h.Subscribe()
		defer unsubscribe()
		defer conn.Close()

		// drain client frames so pings/closes are processed
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					unsubscribe()
					return
				}
			}
		}()

		for evt := range ch {
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
