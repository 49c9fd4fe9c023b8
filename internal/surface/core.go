// Package surface orchestrates the embedded-frame and redirect payment
// surfaces: configuration, destination building, bridge and navigation.
package surface

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/detpay/internal/clientcfg"
	"github.com/gaspardpetit/detpay/internal/destination"
	"github.com/gaspardpetit/detpay/internal/logx"
	"github.com/gaspardpetit/detpay/internal/metrics"
	"github.com/gaspardpetit/detpay/internal/notify"
)

// ErrDetached is returned when operating on a surface after teardown.
var ErrDetached = errors.New("surface detached")

// State of a surface.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "error"
	}
	return "uninitialized"
}

// Settled reports whether s is a terminal state of one resolution.
func (s State) Settled() bool { return s == Ready || s == Failed }

// Error messages shown in the error visual.
const (
	msgConfigFailed     = "Failed to load payment configuration."
	msgRedirectMismatch = "Redirect URI mismatch."
	msgInvalidBase      = "Invalid payment base URL."
	msgMissingClient    = "Missing client ID."
)

// Deps are the collaborators a surface is built from.
type Deps struct {
	Fetcher  clientcfg.Fetcher
	Renderer Renderer
	Host     notify.Host
	// DefaultBase overrides the built-in base destination for the kind.
	DefaultBase string
	// DocumentBase resolves a relative base-src.
	DocumentBase string
	// Attributes are applied before the first attach.
	Attributes map[string]string
}

// resolver is the kind-specific part of the orchestration. It runs on the
// loop with a configuration present and reports the outcome through
// core.ready / core.fail.
type resolver interface {
	resolve(initial bool)
	teardown()
}

type core struct {
	id          string
	kind        string
	defaultBase string
	docBase     string
	loop        *Loop
	fetcher     clientcfg.Fetcher
	renderer    Renderer
	host        notify.Host
	impl        resolver
	log         zerolog.Logger

	// Everything below is only touched on the loop.
	attrs      attributes
	cfg        *clientcfg.ClientConfiguration
	dest       string
	state      State
	connected  bool
	detached   bool
	fetching   bool
	generation int
	waiters    []chan State
}

func newCore(kind, defaultBase string, d Deps) *core {
	c := &core{
		id:          uuid.NewString(),
		kind:        kind,
		defaultBase: defaultBase,
		docBase:     d.DocumentBase,
		loop:        NewLoop(),
		fetcher:     d.Fetcher,
		renderer:    d.Renderer,
		host:        d.Host,
		attrs:       attributes{},
	}
	if c.renderer == nil {
		c.renderer = nopRenderer{}
	}
	if d.DefaultBase != "" {
		c.defaultBase = d.DefaultBase
	}
	for k, v := range d.Attributes {
		c.attrs[k] = v
	}
	c.log = logx.Component(kind, false).With().Str("surface", c.id).Logger()
	return c
}

// ID returns the surface identifier.
func (c *core) ID() string { return c.id }

// Kind returns "iframe" or "redirect".
func (c *core) Kind() string { return c.kind }

// Attach connects the surface to its host. If a client id is present and no
// configuration is held, configuration resolution starts. A second Attach
// while a fetch is in flight joins that fetch.
func (c *core) Attach(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.loop.Do(func() { c.attach(ctx) })
}

// Detach tears the surface down. It is terminal.
func (c *core) Detach() {
	_ = c.loop.Do(c.detach)
	c.loop.Stop()
}

// SetAttribute mirrors a host attribute and re-resolves the destination when
// connected.
func (c *core) SetAttribute(name, value string) error {
	return c.loop.Do(func() {
		c.attrs[name] = value
		c.attributeChanged(name)
	})
}

// RemoveAttribute removes a host attribute.
func (c *core) RemoveAttribute(name string) error {
	return c.loop.Do(func() {
		delete(c.attrs, name)
		c.attributeChanged(name)
	})
}

// State returns the current state.
func (c *core) State() State {
	st := Uninitialized
	if err := c.loop.Do(func() { st = c.state }); err != nil {
		return Uninitialized
	}
	return st
}

// Configuration returns a copy of the held configuration, or nil.
func (c *core) Configuration() *clientcfg.ClientConfiguration {
	var cfg *clientcfg.ClientConfiguration
	_ = c.loop.Do(func() { cfg = c.cfg.Clone() })
	return cfg
}

// Nonce returns the session nonce of the held configuration.
func (c *core) Nonce() string {
	var n string
	_ = c.loop.Do(func() {
		if c.cfg != nil {
			n = c.cfg.Nonce
		}
	})
	return n
}

// Destination returns the last successfully built destination.
func (c *core) Destination() string {
	var d string
	_ = c.loop.Do(func() { d = c.dest })
	return d
}

// ExtraParams returns every data-* attribute keyed without its prefix.
func (c *core) ExtraParams() map[string]string {
	var out map[string]string
	_ = c.loop.Do(func() { out = c.attrs.extras() })
	return out
}

// Wait blocks until the surface reaches ready or error, or ctx ends. It must
// not be called from a host listener.
func (c *core) Wait(ctx context.Context) (State, error) {
	ch := make(chan State, 1)
	err := c.loop.Do(func() {
		if c.state.Settled() || c.detached || (c.connected && !c.fetching && c.state == Uninitialized) {
			ch <- c.state
			return
		}
		c.waiters = append(c.waiters, ch)
	})
	if err != nil {
		return Uninitialized, ErrDetached
	}
	select {
	case st := <-ch:
		// Let the turn that settled the state finish its notifications.
		_ = c.loop.Sync()
		return st, nil
	case <-ctx.Done():
		return Uninitialized, ctx.Err()
	case <-c.loop.Done():
		return Uninitialized, ErrDetached
	}
}

func (c *core) attach(ctx context.Context) {
	if c.detached {
		c.log.Warn().Msg("attach after detach ignored")
		return
	}
	if !c.connected {
		c.connected = true
		metrics.SurfaceAttached()
	}
	c.readAttributes()
	c.log.Debug().Msg("connected")
	if c.clientID() == "" || c.cfg != nil || c.fetching {
		c.flushWaiters()
		return
	}
	c.setState(Loading)
	c.renderer.ShowLoading()
	c.emit(notify.Notification{Message: "Fetching client details", Event: notify.ConfigLoading})
	c.fetching = true
	gen, id := c.generation, c.clientID()
	go func() {
		cfg, err := c.fetch(ctx, id)
		if !c.loop.Post(func() { c.configResolved(gen, cfg, err) }) {
			c.log.Debug().Msg("configuration arrived after teardown; discarded")
		}
	}()
}

func (c *core) fetch(ctx context.Context, id string) (cfg *clientcfg.ClientConfiguration, err error) {
	defer func() {
		if r := recover(); r != nil {
			cfg, err = nil, fmt.Errorf("%w: %v", clientcfg.ErrConfiguration, r)
		}
	}()
	if c.fetcher == nil {
		return nil, fmt.Errorf("%w: no resolver", clientcfg.ErrConfiguration)
	}
	return c.fetcher.Fetch(ctx, id)
}

func (c *core) configResolved(gen int, cfg *clientcfg.ClientConfiguration, err error) {
	if gen != c.generation || !c.connected {
		c.log.Debug().Msg("stale configuration result discarded")
		return
	}
	c.fetching = false
	if err == nil && cfg == nil {
		err = fmt.Errorf("%w: empty response", clientcfg.ErrConfiguration)
	}
	metrics.RecordConfigFetch(err == nil)
	if err != nil {
		c.log.Debug().Err(err).Msg("error fetching client details")
		c.cfg = nil
		c.fail(msgConfigFailed)
		c.emit(notify.Notification{Message: "Failed to fetch client details", Event: notify.ConfigError, Data: err.Error()})
		return
	}
	c.cfg = cfg
	c.impl.resolve(true)
	// The nonce keys the session endpoints and stays out of notifications.
	public := cfg.Clone()
	public.Nonce = ""
	c.emit(notify.Notification{Message: "Client details fetched", Event: notify.ConfigSuccess, Data: public})
}

func (c *core) attributeChanged(name string) {
	if !c.connected {
		return
	}
	c.readAttributes()
	c.log.Debug().Str("attribute", name).Msg("attribute changed")
	if c.cfg != nil {
		c.impl.resolve(false)
	}
}

func (c *core) detach() {
	if c.detached {
		return
	}
	if c.connected {
		metrics.SurfaceDetached()
	}
	c.detached = true
	c.connected = false
	c.generation++
	c.impl.teardown()
	c.flushWaiters()
	c.log.Debug().Msg("disconnected")
}

func (c *core) readAttributes() {
	c.log = logx.Component(c.kind, ToBoolean(c.attrs.get(AttrDebug), c.attrs.has(AttrDebug))).With().Str("surface", c.id).Logger()
}

func (c *core) clientID() string { return c.attrs.get(AttrClientID) }

func (c *core) request() destination.Request {
	return destination.Request{
		ClientID:     c.attrs.get(AttrClientID),
		RedirectURI:  c.attrs.get(AttrRedirectURI),
		ContextValue: c.attrs.get(AttrDataContext),
	}
}

// baseSource is the effective base destination: base-src or the default.
func (c *core) baseSource() string {
	return c.attrs.getOr(AttrBaseSrc, c.defaultBase)
}

// build resolves the base against the document and builds the destination,
// moving to the error state on failure.
func (c *core) build() (*url.URL, bool) {
	if c.clientID() == "" {
		c.fail(msgMissingClient)
		return nil, false
	}
	base, err := destination.ParseBase(c.baseSource(), c.docBase)
	if err != nil {
		c.log.Debug().Err(err).Msg("invalid base-src")
		c.fail(msgInvalidBase)
		return nil, false
	}
	u, err := destination.Build(base.String(), c.cfg, c.request())
	if err != nil {
		c.log.Debug().Err(err).Msg("destination not buildable")
		if errors.Is(err, destination.ErrRedirectMismatch) {
			c.fail(msgRedirectMismatch)
		} else {
			c.fail(msgInvalidBase)
		}
		return nil, false
	}
	c.dest = u.String()
	return u, true
}

func (c *core) ready() { c.setState(Ready) }

func (c *core) fail(message string) {
	c.dest = ""
	c.renderer.ShowError(message)
	c.setState(Failed)
}

func (c *core) setState(s State) {
	if c.state != s {
		metrics.RecordSurfaceState(c.kind, s.String())
	}
	c.state = s
	if s.Settled() {
		c.flushWaiters()
	}
}

func (c *core) flushWaiters() {
	for _, w := range c.waiters {
		w <- c.state
	}
	c.waiters = nil
}

func (c *core) emit(n notify.Notification) {
	n.Source = c.kind
	c.log.Debug().Str("event", n.Event).Msg("emitting event")
	if c.host != nil {
		c.loop.Call(func() { c.host.Emit(n) })
	}
}

type nopRenderer struct{}

func (nopRenderer) ShowLoading()                {}
func (nopRenderer) ShowError(string)            {}
func (nopRenderer) MountFrame(FrameSpec)        {}
func (nopRenderer) MountForm(NavigationRequest) {}
func (nopRenderer) SetMinHeight(float64)        {}
