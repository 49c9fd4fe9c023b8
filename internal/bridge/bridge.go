// Package bridge implements the validated two-way message channel between a
// host and its embedded payment surface.
package bridge

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gaspardpetit/detpay/internal/destination"
	"github.com/gaspardpetit/detpay/internal/logx"
	"github.com/gaspardpetit/detpay/internal/metrics"
)

var (
	// ErrClosed is returned when listening on a bridge that was torn down.
	ErrClosed = errors.New("bridge closed")
	// ErrNoChild means there is no live content window to post to.
	ErrNoChild = errors.New("no live content window")
)

// State of a Bridge.
type State int

const (
	Inactive State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "inactive"
}

// Surface is the side of the embedding that owns a bridge.
type Surface interface {
	// AllowedOrigins returns the currently active allowed-origin set.
	AllowedOrigins() []string
	// BaseSource returns the configured base destination, used to compute
	// the outbound target origin.
	BaseSource() string
	// Deliver re-emits a validated message to the host.
	Deliver(Message)
	// SetMinHeight applies a minimum-height hint in CSS pixels.
	SetMinHeight(px float64)
}

// OriginScoped is implemented by channels that may hold windows of several
// origins at once. Only a window whose origin is in the given set can be the
// content window.
type OriginScoped interface {
	ContentWindowFrom(origins []string) Window
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithExecutor runs inbound handling through exec, e.g. to serialise it onto
// the owning surface's event loop.
func WithExecutor(exec func(func())) Option {
	return func(b *Bridge) { b.exec = exec }
}

// Bridge validates inbound messages and delivers outbound ones.
type Bridge struct {
	surface Surface
	exec    func(func())

	mu          sync.Mutex
	state       State
	closed      bool
	ch          MessageChannel
	unsubscribe func()
}

// New returns an inactive bridge owned by s.
func New(s Surface, opts ...Option) *Bridge {
	b := &Bridge{surface: s}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the bridge state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Listen registers the inbound listener on ch. Calling it while already
// listening is a no-op; calling it after Close returns ErrClosed.
func (b *Bridge) Listen(ch MessageChannel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.state == Listening {
		return nil
	}
	b.ch = ch
	b.unsubscribe = ch.Subscribe(func(ev Event) {
		if b.exec != nil {
			b.exec(func() { b.Handle(ev) })
			return
		}
		b.Handle(ev)
	})
	b.state = Listening
	return nil
}

// Close unregisters the listener. It is safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsub := b.unsubscribe
	b.unsubscribe = nil
	b.state = Inactive
	b.closed = true
	b.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Handle validates ev and, when it passes, delivers it to the surface. It
// reports whether the message was accepted. Rejections have no host-visible
// effect.
func (b *Bridge) Handle(ev Event) bool {
	b.mu.Lock()
	ch, listening := b.ch, b.state == Listening
	b.mu.Unlock()
	if !listening {
		return false
	}

	allowed := b.allowed()
	if !slices.Contains(allowed, ev.Origin) {
		return reject("origin", ev)
	}
	child := b.contentWindow(ch)
	if child == nil || ev.Source == nil || ev.Source != child {
		return reject("source", ev)
	}
	data, ok := ev.Data.(map[string]any)
	if !ok || data == nil {
		return reject("shape", ev)
	}
	typ, ok := data["type"].(string)
	if !ok {
		return reject("type", ev)
	}

	payload := data["payload"]
	metrics.RecordBridgeMessage("accepted")
	b.surface.Deliver(Message{Type: typ, Origin: ev.Origin, Payload: payload})
	if Kind(typ) == KindHeight {
		if px, ok := number(payload); ok {
			b.surface.SetMinHeight(px)
		}
	}
	return true
}

// PostToChild delivers msg to the embedded surface, restricted to the origin
// of the configured base source.
func (b *Bridge) PostToChild(msg any) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		metrics.RecordBridgePost("no_child")
		return ErrNoChild
	}
	child := b.contentWindow(ch)
	if child == nil {
		metrics.RecordBridgePost("no_child")
		return ErrNoChild
	}
	origin, err := destination.Origin(b.surface.BaseSource())
	if err != nil {
		metrics.RecordBridgePost("invalid_origin")
		return err
	}
	if err := ch.Post(child, msg, origin); err != nil {
		metrics.RecordBridgePost("error")
		return fmt.Errorf("post to %s: %w", origin, err)
	}
	metrics.RecordBridgePost("delivered")
	return nil
}

// allowed is the effective inbound origin set. An empty configured set only
// admits opaque origins.
func (b *Bridge) allowed() []string {
	allowed := b.surface.AllowedOrigins()
	if len(allowed) == 0 {
		return []string{OpaqueOrigin}
	}
	return allowed
}

// contentWindow picks the child window. On a multi-origin channel it is the
// first live window from an allowed origin or the base source's origin.
func (b *Bridge) contentWindow(ch MessageChannel) Window {
	sc, ok := ch.(OriginScoped)
	if !ok {
		return ch.ContentWindow()
	}
	origins := slices.Clone(b.allowed())
	if o, err := destination.Origin(b.surface.BaseSource()); err == nil && !slices.Contains(origins, o) {
		origins = append(origins, o)
	}
	return sc.ContentWindowFrom(origins)
}

func reject(reason string, ev Event) bool {
	metrics.RecordBridgeMessage(reason)
	logx.Log.Debug().Str("reason", reason).Str("origin", ev.Origin).Msg("bridge message dropped")
	return false
}

// number reports whether v is a JSON-style numeric value.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
