package surface

import (
	"github.com/gaspardpetit/detpay/internal/bridge"
	"github.com/gaspardpetit/detpay/internal/notify"
)

// DefaultFrameBase is the payment UI loaded in the embedded frame.
const DefaultFrameBase = "https://pay.det.co/iframe"

// Frame embeds the remote payment UI and bridges messages with it.
type Frame struct {
	*core
	channel   bridge.MessageChannel
	bridge    *bridge.Bridge
	mounted   FrameSpec
	minHeight float64
}

// NewFrame builds a frame surface that talks to the embedded UI over ch.
func NewFrame(d Deps, ch bridge.MessageChannel) *Frame {
	f := &Frame{core: newCore(notify.SourceFrame, DefaultFrameBase, d), channel: ch}
	f.impl = f
	f.bridge = bridge.New(frameBridge{f}, bridge.WithExecutor(func(fn func()) { f.loop.Post(fn) }))
	return f
}

// BridgeState reports whether the inbound listener is registered.
func (f *Frame) BridgeState() bridge.State { return f.bridge.State() }

// MinHeight returns the last minimum-height hint received from the frame.
func (f *Frame) MinHeight() float64 {
	var h float64
	_ = f.loop.Do(func() { h = f.minHeight })
	return h
}

// PostToChild sends an opaque command to the embedded UI, restricted to the
// origin of the base destination. Without a live frame or a parseable base it
// does nothing and reports why.
func (f *Frame) PostToChild(msg any) error {
	var err error
	if derr := f.loop.Do(func() { err = f.bridge.PostToChild(msg) }); derr != nil {
		return derr
	}
	if err != nil {
		f.log.Debug().Err(err).Msg("post to child skipped")
	}
	return err
}

// NotifyLoad reports that the embedded UI finished loading.
func (f *Frame) NotifyLoad() {
	f.loop.Post(func() {
		if f.connected {
			f.emit(notify.Notification{Message: "Iframe loaded", Event: notify.Load})
		}
	})
}

// NotifyLoadError reports that the embedded UI failed to load.
func (f *Frame) NotifyLoadError(err error) {
	f.loop.Post(func() {
		if !f.connected {
			return
		}
		n := notify.Notification{Message: "Iframe error", Event: notify.Error}
		if err != nil {
			n.Data = err.Error()
		}
		f.emit(n)
	})
}

func (f *Frame) resolve(initial bool) {
	u, ok := f.build()
	if !ok {
		f.mounted = FrameSpec{}
		return
	}
	spec := FrameSpec{
		Src:            u.String(),
		Sandbox:        f.attrs.getOr(AttrSandbox, DefaultSandbox),
		Allow:          f.attrs.getOr(AttrAllow, DefaultAllow),
		ReferrerPolicy: f.attrs.getOr(AttrReferrerPolicy, DefaultReferrerPolicy),
		Title:          f.attrs.getOr(AttrTitle, DefaultTitle),
		Loading:        f.attrs.getOr(AttrLoading, DefaultLoading),
	}
	if spec != f.mounted || f.state != Ready {
		f.renderer.MountFrame(spec)
		f.mounted = spec
	}
	if f.channel != nil && f.bridge.State() == bridge.Inactive {
		if err := f.bridge.Listen(f.channel); err != nil {
			f.log.Debug().Err(err).Msg("bridge not activated")
		}
	}
	f.ready()
}

func (f *Frame) teardown() {
	f.bridge.Close()
}

// frameBridge exposes the frame to its bridge. Every method runs on the loop.
// Messages are only applied while the frame is mounted and ready.
type frameBridge struct{ f *Frame }

func (b frameBridge) live() bool { return b.f.connected && b.f.state == Ready }

func (b frameBridge) AllowedOrigins() []string {
	if b.f.cfg == nil {
		return nil
	}
	return b.f.cfg.AllowedOrigins
}

func (b frameBridge) BaseSource() string { return b.f.baseSource() }

func (b frameBridge) Deliver(m bridge.Message) {
	if !b.live() {
		return
	}
	b.f.emit(notify.Notification{Origin: m.Origin, Message: "Message from iframe", Event: m.Type, Data: m.Payload})
}

func (b frameBridge) SetMinHeight(px float64) {
	if !b.live() {
		return
	}
	b.f.minHeight = px
	b.f.renderer.SetMinHeight(px)
}
