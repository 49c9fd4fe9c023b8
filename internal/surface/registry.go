package surface

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gaspardpetit/detpay/internal/bridge"
)

// Element names of the built-in surfaces.
const (
	ElementFrame    = "det-pay-iframe"
	ElementRedirect = "det-pay-redirect"
)

var (
	// ErrAlreadyRegistered is returned when an element name is defined twice.
	ErrAlreadyRegistered = errors.New("surface already registered")
	// ErrUnknownElement is returned when creating an undefined element.
	ErrUnknownElement = errors.New("unknown surface element")
)

// Surface is the host-facing contract shared by every surface kind.
type Surface interface {
	ID() string
	Kind() string
	Attach(ctx context.Context) error
	Detach()
	SetAttribute(name, value string) error
	RemoveAttribute(name string) error
	State() State
	Wait(ctx context.Context) (State, error)
	Destination() string
	Nonce() string
}

// Platform carries the platform-bound capabilities a factory may need in
// addition to Deps.
type Platform struct {
	Channel   bridge.MessageChannel
	Navigator NavigationTarget
}

// Factory constructs a surface.
type Factory func(Deps, Platform) Surface

// Registry maps element names to factories. It is populated once at process
// start.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Define registers f under name. Defining a name twice fails.
func (r *Registry) Define(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.factories[name] = f
	return nil
}

// Get returns the factory for name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the defined element names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Create builds a detached surface of the named element.
func (r *Registry) Create(name string, d Deps, p Platform) (Surface, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownElement, name)
	}
	return f(d, p), nil
}

// DefineBuiltins registers the frame and redirect surfaces.
func DefineBuiltins(r *Registry) error {
	if err := r.Define(ElementFrame, func(d Deps, p Platform) Surface { return NewFrame(d, p.Channel) }); err != nil {
		return err
	}
	return r.Define(ElementRedirect, func(d Deps, p Platform) Surface { return NewRedirect(d, p.Navigator) })
}
