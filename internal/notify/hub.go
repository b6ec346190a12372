package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// The API only listens on loopback, so origin checks add nothing here.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub pushes events to websocket subscribers. Slow subscribers are
// dropped rather than allowed to stall publishers.
type Hub struct {
	log *zap.SugaredLogger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish enqueues the event for every live subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			h.log.Warnw("dropping slow event subscriber")
			delete(h.subs, sub)
			close(sub.send)
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("event subscriber upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Event, 16)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.log.Debugw("event subscriber connected", "subscribers", h.Subscribers())

	go h.writeLoop(sub)
	h.readLoop(sub)
}

func (h *Hub) writeLoop(sub *subscriber) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.send:
			if !ok {
				sub.conn.Close()
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteJSON(ev); err != nil {
				h.drop(sub)
				return
			}
		case <-ping.C:
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(sub)
				return
			}
		}
	}
}

// readLoop discards inbound frames; it exists to observe the close.
func (h *Hub) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugw("event subscriber read error", "error", err)
			}
			h.drop(sub)
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	sub.conn.Close()
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.send)
		sub.conn.Close()
	}
}
