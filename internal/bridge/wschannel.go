package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/detpay/internal/logx"
)

// ErrBackpressure indicates a window's outbound queue is full.
var ErrBackpressure = errors.New("window backpressure")

// Conn is one WebSocket connection accepted by a Hub. It is the Window of the
// page on the other end.
type Conn struct {
	origin string
	ws     *websocket.Conn
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

// Alive implements Window.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Origin returns the origin announced during the handshake.
func (c *Conn) Origin() string { return c.origin }

func (c *Conn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// Hub is a MessageChannel over WebSocket. Each accepted connection is a
// Window. The handshake accepts any origin and records it; the Bridge picks
// the content window among the connections from origins it trusts and then
// authorises every message.
type Hub struct {
	mu       sync.Mutex
	handlers map[int]Handler
	next     int
	conns    []*Conn
	closed   bool

	sendBuffer int
	readLimit  int64

	// OnConnect, when set, runs once for each accepted window before its
	// messages are dispatched.
	OnConnect func(*Conn)
	// OnDisconnect, when set, runs after a window goes away.
	OnDisconnect func(*Conn)
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{handlers: map[int]Handler{}, sendBuffer: 16, readLimit: 64 << 10}
}

// Subscribe implements MessageChannel.
func (h *Hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.handlers[id] = fn
	h.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

// ContentWindow implements MessageChannel. It is the first live connection,
// whatever its origin.
func (h *Hub) ContentWindow() Window {
	return h.first(func(*Conn) bool { return true })
}

// ContentWindowFrom implements OriginScoped.
func (h *Hub) ContentWindowFrom(origins []string) Window {
	return h.first(func(c *Conn) bool { return slices.Contains(origins, c.origin) })
}

func (h *Hub) first(match func(*Conn) bool) Window {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		if c.Alive() && match(c) {
			return c
		}
	}
	return nil
}

// Post implements MessageChannel.
func (h *Hub) Post(target Window, msg any, targetOrigin string) error {
	c, ok := target.(*Conn)
	if !ok || !c.Alive() {
		return ErrNoChild
	}
	if c.origin != targetOrigin {
		return ErrOriginMismatch
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNoChild
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// ServeHTTP accepts a WebSocket connection and pumps its messages into the
// subscribed handlers until the connection or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "bridge closed", http.StatusGone)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	ws.SetReadLimit(h.readLimit)
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = OpaqueOrigin
	}
	c := &Conn{origin: origin, ws: ws, send: make(chan []byte, h.sendBuffer)}
	h.mu.Lock()
	h.conns = append(h.conns, c)
	h.mu.Unlock()
	logx.Log.Debug().Str("origin", origin).Msg("bridge window connected")
	if h.OnConnect != nil {
		h.OnConnect(c)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writeLoop(ctx)
	defer h.drop(c)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var v any
		if json.Unmarshal(data, &v) != nil {
			v = string(data)
		}
		h.dispatch(Event{Origin: origin, Source: c, Data: v})
	}
}

// Close disconnects every window and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()
	for _, c := range conns {
		if c.markClosed() {
			_ = c.ws.Close(websocket.StatusNormalClosure, "shutdown")
		}
	}
}

func (h *Hub) dispatch(ev Event) {
	h.mu.Lock()
	hs := make([]Handler, 0, len(h.handlers))
	for _, fn := range h.handlers {
		hs = append(hs, fn)
	}
	h.mu.Unlock()
	for _, fn := range hs {
		fn(ev)
	}
}

func (h *Hub) drop(c *Conn) {
	h.mu.Lock()
	for i, x := range h.conns {
		if x == c {
			h.conns = append(h.conns[:i], h.conns[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	if c.markClosed() {
		_ = c.ws.Close(websocket.StatusNormalClosure, "closing")
	}
	logx.Log.Debug().Str("origin", c.origin).Msg("bridge window disconnected")
	if h.OnDisconnect != nil {
		h.OnDisconnect(c)
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	for b := range c.send {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.ws.Write(wctx, websocket.MessageText, b)
		cancel()
		if err != nil {
			return
		}
	}
}
