package event

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	// wsBuffer is the per-client queue length. A client that falls further
	// behind is disconnected.
	wsBuffer = 32

	wsWriteTimeout = 5 * time.Second
)

// Hub streams bus events to websocket clients. Each client only receives
// events for the owner it connected as.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	ownerOf func(*http.Request) string
	origins []string
}

type wsClient struct {
	owner string
	ch    chan Event
	once  sync.Once
}

func (c *wsClient) close() { c.once.Do(func() { close(c.ch) }) }

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithOriginPatterns allows cross-origin websocket connections from the
// given host patterns.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// NewHub returns a hub that resolves a request's owner with ownerOf.
func NewHub(ownerOf func(*http.Request) string, opts ...HubOption) *Hub {
	h := &Hub{clients: make(map[*wsClient]struct{}), ownerOf: ownerOf}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle is a [Handler] fanning ev out to connected clients of ev.Owner.
func (h *Hub) Handle(_ context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.owner != ev.Owner {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			slog.Warn("event: websocket client too slow, dropping", "owner", c.owner)
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("event: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &wsClient{owner: h.ownerOf(r), ch: make(chan Event, wsBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
	}()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer closes.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("event: websocket write failed", "owner", c.owner, "err", err)
				return
			}
		}
	}
}
