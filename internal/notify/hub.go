package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/detpay/internal/logx"
)

// Hub is a Host that fans notifications out to WebSocket subscribers. Recent
// notifications are replayed to late subscribers so a host page that connects
// after the surface started still sees the configuration lifecycle.
type Hub struct {
	// OriginPatterns lists the host page origins allowed to subscribe, in
	// websocket.AcceptOptions form. Empty means same host only.
	OriginPatterns []string

	mu      sync.Mutex
	subs    map[chan []byte]struct{}
	history [][]byte
	limit   int
	closed  bool
}

// NewHub returns a Hub that replays up to replay notifications.
func NewHub(replay int) *Hub {
	if replay < 0 {
		replay = 0
	}
	return &Hub{subs: map[chan []byte]struct{}{}, limit: replay}
}

// Emit implements Host. Slow subscribers miss notifications rather than block
// the surface.
func (h *Hub) Emit(n Notification) {
	b, err := json.Marshal(n)
	if err != nil {
		logx.Log.Warn().Err(err).Str("event", n.Event).Msg("notification not serialisable")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.limit > 0 {
		h.history = append(h.history, b)
		if len(h.history) > h.limit {
			h.history = h.history[len(h.history)-h.limit:]
		}
	}
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
			logx.Log.Debug().Str("event", n.Event).Msg("notification dropped for slow subscriber")
		}
	}
}

// Subscribe returns a channel of serialised notifications, pre-filled with the
// replay history, and a function that removes it.
func (h *Hub) Subscribe(buffer int) (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, buffer+len(h.history))
	for _, b := range h.history {
		ch <- b
	}
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// ServeHTTP streams notifications to a WebSocket subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		return
	}
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "closing") }()
	ch, unsubscribe := h.Subscribe(32)
	defer unsubscribe()
	ctx := c.CloseRead(r.Context())
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
