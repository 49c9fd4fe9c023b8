// Package surfacetest provides in-memory fakes of the surface capabilities.
package surfacetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gaspardpetit/detpay/internal/clientcfg"
	"github.com/gaspardpetit/detpay/internal/notify"
	"github.com/gaspardpetit/detpay/internal/surface"
)

// RenderState is the visual state recorded by Renderer.
type RenderState struct {
	View      string
	ErrorText string
	Frame     surface.FrameSpec
	Form      surface.NavigationRequest
	MinHeight float64
	Mounts    int
}

// Renderer records the visual state a surface asked for.
type Renderer struct {
	mu sync.Mutex
	RenderState
}

func (r *Renderer) ShowLoading() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.View = "loading"
}

func (r *Renderer) ShowError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.View, r.ErrorText = "error", message
}

func (r *Renderer) MountFrame(spec surface.FrameSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.View, r.Frame = "frame", spec
	r.Mounts++
}

func (r *Renderer) MountForm(req surface.NavigationRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.View, r.Form = "form", req
	r.Mounts++
}

func (r *Renderer) SetMinHeight(px float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.MinHeight = px
}

// Snapshot returns a copy safe to inspect from the test goroutine.
func (r *Renderer) Snapshot() RenderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RenderState
}

// Navigator records navigations.
type Navigator struct {
	mu    sync.Mutex
	Calls []surface.NavigationRequest
	// OnNavigate, when set, runs inside Navigate.
	OnNavigate func(surface.NavigationRequest)
	Err        error
}

func (n *Navigator) Navigate(req surface.NavigationRequest) error {
	n.mu.Lock()
	n.Calls = append(n.Calls, req)
	hook, err := n.OnNavigate, n.Err
	n.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return err
}

// Navigations returns a copy of the recorded navigations.
func (n *Navigator) Navigations() []surface.NavigationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]surface.NavigationRequest(nil), n.Calls...)
}

// Host records notifications.
type Host struct {
	mu     sync.Mutex
	events []notify.Notification
	// OnEmit, when set, runs inside Emit while the surface turn waits for it.
	OnEmit func(notify.Notification)
}

func (h *Host) Emit(n notify.Notification) {
	h.mu.Lock()
	h.events = append(h.events, n)
	hook := h.OnEmit
	h.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

// Events returns a copy of the recorded notifications.
func (h *Host) Events() []notify.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]notify.Notification(nil), h.events...)
}

// Names returns the event names recorded so far.
func (h *Host) Names() []string {
	var out []string
	for _, e := range h.Events() {
		out = append(out, e.Event)
	}
	return out
}

// Fetcher returns a fixed configuration or error. When Gate is non-nil each
// fetch blocks until the gate is closed or receives a value.
type Fetcher struct {
	Config *clientcfg.ClientConfiguration
	Err    error
	Gate   chan struct{}
	calls  atomic.Int32
}

func (f *Fetcher) Fetch(ctx context.Context, clientID string) (*clientcfg.ClientConfiguration, error) {
	f.calls.Add(1)
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Config.Clone(), nil
}

// Calls returns how many fetches started.
func (f *Fetcher) Calls() int { return int(f.calls.Load()) }
