package ipc

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one item pushed to WebSocket subscribers: either a thing-state
// transition or an inbound cloud-to-hub message.
type Event struct {
	Kind   string `json:"kind"`
	Serial string `json:"serial"`
	Detail string `json:"detail"`
}

// eventHub fans Publish calls out to every currently-connected WebSocket
// client. It has no buffering guarantee: a slow client may miss events
// rather than stall publishers, matching the "additive, best-effort" status
// of this feed relative to the REST polling endpoints.
type eventHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan Event]struct{})}
}

// Publish delivers ev to every connected subscriber without blocking.
func (h *eventHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) subscribe() chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *eventHub) serve(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) {
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed, dropping subscriber", zap.Error(err))
				return
			}
		}
	}
}
