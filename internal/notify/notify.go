// Package notify carries surface notifications to the embedding host.
package notify

import "sync/atomic"

// Event names emitted to the host.
const (
	ConfigLoading  = "det_pay:config_loading"
	ConfigSuccess  = "det_pay:config_success"
	ConfigError    = "det_pay:config_error"
	Load           = "det_pay:load"
	Error          = "det_pay:error"
	BeforeRedirect = "detpay:before-redirect"
)

// Source names the kind of surface that emitted a notification.
const (
	SourceFrame    = "iframe"
	SourceRedirect = "redirect"
)

// Notification is the payload delivered to host listeners.
type Notification struct {
	Source  string `json:"source"`
	Origin  string `json:"origin"`
	Message string `json:"message"`
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`

	cancel *atomic.Bool
}

// Cancelable returns a copy of n that host listeners may cancel.
func (n Notification) Cancelable() Notification {
	n.cancel = new(atomic.Bool)
	return n
}

// IsCancelable reports whether Cancel has any effect.
func (n Notification) IsCancelable() bool { return n.cancel != nil }

// Cancel asks the emitter to skip the action the notification announces.
func (n Notification) Cancel() {
	if n.cancel != nil {
		n.cancel.Store(true)
	}
}

// Canceled reports whether any listener cancelled n.
func (n Notification) Canceled() bool {
	return n.cancel != nil && n.cancel.Load()
}

// Host receives notifications from a surface. The surface turn waits for Emit
// to return, so implementations must not block for long. They may call back
// into the surface; Wait is the exception.
type Host interface {
	Emit(Notification)
}

// HostFunc adapts a function to Host.
type HostFunc func(Notification)

// Emit implements Host.
func (f HostFunc) Emit(n Notification) { f(n) }

// Multi fans a notification out to several hosts in order.
type Multi []Host

// Emit implements Host.
func (m Multi) Emit(n Notification) {
	for _, h := range m {
		if h != nil {
			h.Emit(n)
		}
	}
}
