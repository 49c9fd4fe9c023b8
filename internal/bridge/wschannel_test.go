package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type lockedSurface struct {
	mu sync.Mutex
	fakeSurface
	got chan Message
}

func (s *lockedSurface) Deliver(m Message) {
	s.mu.Lock()
	s.delivered = append(s.delivered, m)
	s.mu.Unlock()
	s.got <- m
}

func (s *lockedSurface) SetMinHeight(px float64) {
	s.mu.Lock()
	s.minHeight = px
	s.mu.Unlock()
}

func dial(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBridgeEndToEnd(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	s := &lockedSurface{got: make(chan Message, 4)}
	s.origins = []string{"https://pay.example"}
	s.base = "https://pay.example/iframe"
	b := New(s)
	if err := b.Listen(hub); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer b.Close()

	child := dial(t, wsURL, "https://pay.example")
	defer func() { _ = child.Close(websocket.StatusNormalClosure, "") }()
	waitFor(t, func() bool { return hub.ContentWindow() != nil })

	// A second window from an allowed origin is not the content window.
	intruder := dial(t, wsURL, "https://pay.example")
	defer func() { _ = intruder.Close(websocket.StatusNormalClosure, "") }()
	// And a window from a foreign origin.
	foreign := dial(t, wsURL, "https://evil.example")
	defer func() { _ = foreign.Close(websocket.StatusNormalClosure, "") }()

	ctx := context.Background()
	_ = intruder.Write(ctx, websocket.MessageText, []byte(`{"type":"det_pay:result","payload":{"spoofed":true}}`))
	_ = foreign.Write(ctx, websocket.MessageText, []byte(`{"type":"det_pay:result"}`))
	_ = child.Write(ctx, websocket.MessageText, []byte(`not json`))
	_ = child.Write(ctx, websocket.MessageText, []byte(`{"type":"det_pay:height","payload":320}`))

	select {
	case m := <-s.got:
		if m.Type != string(KindHeight) || m.Origin != "https://pay.example" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	s.mu.Lock()
	if len(s.delivered) != 1 || s.minHeight != 320 {
		t.Fatalf("unexpected surface state: delivered=%d height=%v", len(s.delivered), s.minHeight)
	}
	s.mu.Unlock()

	if err := b.PostToChild(map[string]string{"type": "det_pay:focus"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := child.Read(rctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil || got["type"] != "det_pay:focus" {
		t.Fatalf("unexpected outbound %s", data)
	}
}

func TestHubPostRequiresMatchingOrigin(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := dial(t, wsURL, "https://pay.example")
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "") }()
	waitFor(t, func() bool { return hub.ContentWindow() != nil })

	w := hub.ContentWindow()
	if err := hub.Post(w, "x", "https://other.example"); err != ErrOriginMismatch {
		t.Fatalf("expected ErrOriginMismatch, got %v", err)
	}
	if err := hub.Post(&MemoryWindow{}, "x", "https://pay.example"); err != ErrNoChild {
		t.Fatalf("expected ErrNoChild, got %v", err)
	}
}

func TestHubContentWindowClearsOnDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := dial(t, wsURL, "")
	waitFor(t, func() bool { return hub.ContentWindow() != nil })
	if conn := hub.ContentWindow().(*Conn); conn.Origin() != OpaqueOrigin {
		t.Fatalf("origin = %q, want %q", conn.Origin(), OpaqueOrigin)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return hub.ContentWindow() == nil })

	hub.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410 after close, got %d", resp.StatusCode)
	}
}

func TestHubForeignWindowFirstCannotTakeOver(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	s := &lockedSurface{got: make(chan Message, 4)}
	s.origins = []string{"https://pay.example"}
	s.base = "https://pay.example/iframe"
	b := New(s)
	if err := b.Listen(hub); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer b.Close()

	foreign := dial(t, wsURL, "https://evil.example")
	defer func() { _ = foreign.Close(websocket.StatusNormalClosure, "") }()
	waitFor(t, func() bool { return hub.ContentWindow() != nil })
	child := dial(t, wsURL, "https://pay.example")
	defer func() { _ = child.Close(websocket.StatusNormalClosure, "") }()
	waitFor(t, func() bool { return hub.ContentWindowFrom([]string{"https://pay.example"}) != nil })

	if w := hub.ContentWindow().(*Conn); w.Origin() != "https://evil.example" {
		t.Fatalf("unscoped content window = %q", w.Origin())
	}

	ctx := context.Background()
	_ = child.Write(ctx, websocket.MessageText, []byte(`{"type":"det_pay:height","payload":280}`))
	select {
	case m := <-s.got:
		if m.Type != string(KindHeight) || m.Origin != "https://pay.example" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("legitimate child was rejected")
	}

	if err := b.PostToChild(map[string]string{"type": "det_pay:focus"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, data, err := child.Read(rctx); err != nil || !strings.Contains(string(data), "det_pay:focus") {
		t.Fatalf("child read %s: %v", data, err)
	}
}
