package bridge

import (
	"errors"
	"sync"
)

// ErrOriginMismatch is returned when a post targets an origin the window does
// not belong to.
var ErrOriginMismatch = errors.New("target origin mismatch")

// Handler receives inbound events.
type Handler func(Event)

// MessageChannel sends and receives cross-boundary messages.
type MessageChannel interface {
	// Subscribe registers h for every inbound event and returns a function
	// that removes it.
	Subscribe(h Handler) (unsubscribe func())
	// Post delivers msg to target only if target belongs to targetOrigin.
	Post(target Window, msg any, targetOrigin string) error
	// ContentWindow returns the embedded surface's window, or nil when none
	// is live.
	ContentWindow() Window
}

// MemoryWindow is an in-process Window.
type MemoryWindow struct {
	Name   string
	Origin string
	closed bool
}

// Alive implements Window.
func (w *MemoryWindow) Alive() bool { return w != nil && !w.closed }

// Close marks the window as gone.
func (w *MemoryWindow) Close() { w.closed = true }

// Posted records one outbound delivery on a MemoryChannel.
type Posted struct {
	Target       Window
	Message      any
	TargetOrigin string
}

// MemoryChannel is an in-memory MessageChannel used in tests and by embedders
// that run both ends in one process.
type MemoryChannel struct {
	mu       sync.Mutex
	handlers map[int]Handler
	next     int
	child    Window
	posted   []Posted
}

// NewMemoryChannel returns a channel whose content window is child.
func NewMemoryChannel(child Window) *MemoryChannel {
	return &MemoryChannel{handlers: map[int]Handler{}, child: child}
}

// Subscribe implements MessageChannel.
func (c *MemoryChannel) Subscribe(h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.handlers[id] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

// Post implements MessageChannel.
func (c *MemoryChannel) Post(target Window, msg any, targetOrigin string) error {
	if mw, ok := target.(*MemoryWindow); ok && mw.Origin != "" && mw.Origin != targetOrigin {
		return ErrOriginMismatch
	}
	c.mu.Lock()
	c.posted = append(c.posted, Posted{Target: target, Message: msg, TargetOrigin: targetOrigin})
	c.mu.Unlock()
	return nil
}

// ContentWindow implements MessageChannel.
func (c *MemoryChannel) ContentWindow() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.child == nil || !c.child.Alive() {
		return nil
	}
	return c.child
}

// SetContentWindow replaces the embedded surface's window.
func (c *MemoryChannel) SetContentWindow(w Window) {
	c.mu.Lock()
	c.child = w
	c.mu.Unlock()
}

// Emit delivers ev to every subscribed handler synchronously.
func (c *MemoryChannel) Emit(ev Event) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// Subscribers returns the number of registered handlers.
func (c *MemoryChannel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Posted returns a copy of every outbound delivery so far.
func (c *MemoryChannel) Posted() []Posted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Posted(nil), c.posted...)
}
