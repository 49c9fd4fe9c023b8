package bridge

import (
	"errors"
	"testing"

	"github.com/gaspardpetit/detpay/internal/destination"
)

type fakeSurface struct {
	origins   []string
	base      string
	delivered []Message
	minHeight float64
	heightSet int
}

func (s *fakeSurface) AllowedOrigins() []string { return s.origins }
func (s *fakeSurface) BaseSource() string        { return s.base }
func (s *fakeSurface) Deliver(m Message)         { s.delivered = append(s.delivered, m) }
func (s *fakeSurface) SetMinHeight(px float64) {
	s.minHeight = px
	s.heightSet++
}

func setup(t *testing.T) (*fakeSurface, *MemoryWindow, *MemoryChannel, *Bridge) {
	t.Helper()
	s := &fakeSurface{origins: []string{"https://pay.example"}, base: "https://pay.example/iframe"}
	child := &MemoryWindow{Name: "child", Origin: "https://pay.example"}
	ch := NewMemoryChannel(child)
	b := New(s)
	if err := b.Listen(ch); err != nil {
		t.Fatalf("listen: %v", err)
	}
	return s, child, ch, b
}

func TestHeightUpdateScenario(t *testing.T) {
	s, child, ch, b := setup(t)
	ch.Emit(Event{Origin: "https://pay.example", Source: child, Data: map[string]any{"type": "det_pay:height", "payload": float64(250)}})
	if s.minHeight != 250 {
		t.Fatalf("min height = %v, want 250", s.minHeight)
	}
	if len(s.delivered) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(s.delivered))
	}
	if s.delivered[0].Origin != "https://pay.example" || s.delivered[0].Type != string(KindHeight) {
		t.Fatalf("unexpected message %+v", s.delivered[0])
	}
	if b.State() != Listening {
		t.Fatalf("state = %s", b.State())
	}
}

func TestRejections(t *testing.T) {
	other := &MemoryWindow{Name: "other"}
	tests := []struct {
		name string
		ev   func(child Window) Event
	}{
		{"foreign origin", func(c Window) Event {
			return Event{Origin: "https://evil.example", Source: c, Data: map[string]any{"type": "det_pay:ready"}}
		}},
		{"wrong source", func(c Window) Event {
			return Event{Origin: "https://pay.example", Source: other, Data: map[string]any{"type": "det_pay:ready"}}
		}},
		{"nil source", func(c Window) Event {
			return Event{Origin: "https://pay.example", Data: map[string]any{"type": "det_pay:ready"}}
		}},
		{"null data", func(c Window) Event {
			return Event{Origin: "https://pay.example", Source: c}
		}},
		{"string data", func(c Window) Event {
			return Event{Origin: "https://pay.example", Source: c, Data: "det_pay:ready"}
		}},
		{"non-string type", func(c Window) Event {
			return Event{Origin: "https://pay.example", Source: c, Data: map[string]any{"type": float64(3)}}
		}},
		{"foreign origin height", func(c Window) Event {
			return Event{Origin: "https://evil.example", Source: c, Data: map[string]any{"type": "det_pay:height", "payload": float64(900)}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, child, ch, b := setup(t)
			ev := tc.ev(child)
			if b.Handle(ev) {
				t.Fatalf("expected rejection")
			}
			ch.Emit(ev)
			if len(s.delivered) != 0 || s.heightSet != 0 {
				t.Fatalf("rejected message changed state: %+v", s)
			}
		})
	}
}

func TestHeightOnlyForNumericPayload(t *testing.T) {
	s, child, ch, _ := setup(t)
	for _, data := range []map[string]any{
		{"type": "det_pay:height", "payload": "250"},
		{"type": "det_pay:height", "payload": map[string]any{"height": float64(250)}},
		{"type": "det_pay:result", "payload": float64(250)},
		{"type": "det_pay:ready"},
	} {
		ch.Emit(Event{Origin: "https://pay.example", Source: child, Data: data})
	}
	if s.heightSet != 0 {
		t.Fatalf("min height changed by non-numeric or non-height message")
	}
	if len(s.delivered) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(s.delivered))
	}
}

func TestOpaqueOriginFallback(t *testing.T) {
	s, child, ch, _ := setup(t)
	s.origins = nil
	ch.Emit(Event{Origin: "https://pay.example", Source: child, Data: map[string]any{"type": "det_pay:ready"}})
	ch.Emit(Event{Origin: OpaqueOrigin, Source: child, Data: map[string]any{"type": "det_pay:ready"}})
	if len(s.delivered) != 1 || s.delivered[0].Origin != OpaqueOrigin {
		t.Fatalf("expected only the opaque origin to pass, got %+v", s.delivered)
	}
}

func TestCloseTearsDownOnce(t *testing.T) {
	s, child, ch, b := setup(t)
	b.Close()
	b.Close()
	if ch.Subscribers() != 0 {
		t.Fatalf("listener still registered")
	}
	if b.State() != Inactive {
		t.Fatalf("state = %s", b.State())
	}
	ch.Emit(Event{Origin: "https://pay.example", Source: child, Data: map[string]any{"type": "det_pay:ready"}})
	if len(s.delivered) != 0 {
		t.Fatalf("closed bridge delivered a message")
	}
	if err := b.Listen(ch); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestListenIsIdempotent(t *testing.T) {
	s, child, ch, b := setup(t)
	if err := b.Listen(ch); err != nil {
		t.Fatalf("listen: %v", err)
	}
	if ch.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", ch.Subscribers())
	}
	ch.Emit(Event{Origin: "https://pay.example", Source: child, Data: map[string]any{"type": "det_pay:ready"}})
	if len(s.delivered) != 1 {
		t.Fatalf("expected one delivery, got %d", len(s.delivered))
	}
}

func TestExecutorSerialisesHandling(t *testing.T) {
	s := &fakeSurface{origins: []string{"https://pay.example"}}
	child := &MemoryWindow{}
	ch := NewMemoryChannel(child)
	var queued []func()
	b := New(s, WithExecutor(func(fn func()) { queued = append(queued, fn) }))
	if err := b.Listen(ch); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ch.Emit(Event{Origin: "https://pay.example", Source: child, Data: map[string]any{"type": "det_pay:ready"}})
	if len(s.delivered) != 0 || len(queued) != 1 {
		t.Fatalf("handling was not deferred to the executor")
	}
	queued[0]()
	if len(s.delivered) != 1 {
		t.Fatalf("expected delivery after executor ran")
	}
}

func TestPostToChild(t *testing.T) {
	s, child, ch, b := setup(t)
	if err := b.PostToChild(map[string]any{"cmd": "focus"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	posted := ch.Posted()
	if len(posted) != 1 || posted[0].TargetOrigin != "https://pay.example" || posted[0].Target != child {
		t.Fatalf("unexpected posts %+v", posted)
	}

	s.base = ""
	if err := b.PostToChild("x"); !errors.Is(err, destination.ErrInvalidBase) {
		t.Fatalf("expected ErrInvalidBase, got %v", err)
	}
	s.base = "::not-a-url"
	if err := b.PostToChild("x"); !errors.Is(err, destination.ErrInvalidBase) {
		t.Fatalf("expected ErrInvalidBase, got %v", err)
	}
	s.base = "https://other.example/iframe"
	if err := b.PostToChild("x"); !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("expected ErrOriginMismatch, got %v", err)
	}

	child.Close()
	s.base = "https://pay.example/iframe"
	if err := b.PostToChild("x"); !errors.Is(err, ErrNoChild) {
		t.Fatalf("expected ErrNoChild, got %v", err)
	}
	if len(ch.Posted()) != 1 {
		t.Fatalf("no-op posts must not deliver")
	}
}

func TestPostBeforeListen(t *testing.T) {
	b := New(&fakeSurface{base: "https://pay.example"})
	if err := b.PostToChild("x"); !errors.Is(err, ErrNoChild) {
		t.Fatalf("expected ErrNoChild, got %v", err)
	}
}

func TestDecodeError(t *testing.T) {
	p, ok := DecodeError(map[string]any{"code": "declined", "message": "card declined"})
	if !ok || p.Code != "declined" || p.Message != "card declined" {
		t.Fatalf("unexpected decode %+v %v", p, ok)
	}
	if _, ok := DecodeError("x"); ok {
		t.Fatalf("expected decode failure")
	}
	if !KindLoadError.Known() || Kind("other").Known() {
		t.Fatalf("Known mismatch")
	}
}
