package surface

import (
	"context"
	"net/http"
	"strings"

	"github.com/gaspardpetit/detpay/internal/destination"
	"github.com/gaspardpetit/detpay/internal/metrics"
	"github.com/gaspardpetit/detpay/internal/notify"
)

// DefaultRedirectBase is the payment page the redirect surface navigates to.
const DefaultRedirectBase = "https://pay.det.co/redirect"

// DefaultTarget is the navigation target when none is declared.
const DefaultTarget = "_self"

// Redirect materialises the destination as a form and, unless disabled,
// submits it on a later turn after announcing it to the host.
type Redirect struct {
	*core
	nav  NavigationTarget
	form *NavigationRequest
}

// NewRedirect builds a redirect surface that navigates through nav.
func NewRedirect(d Deps, nav NavigationTarget) *Redirect {
	r := &Redirect{core: newCore(notify.SourceRedirect, DefaultRedirectBase, d), nav: nav}
	r.impl = r
	return r
}

// Wait blocks until the surface settles. For a ready surface this includes
// the announcement and navigation turns scheduled by auto-submission.
func (r *Redirect) Wait(ctx context.Context) (State, error) {
	st, err := r.core.Wait(ctx)
	if err != nil || st != Ready {
		return st, err
	}
	// The announcement is queued behind the ready turn and navigation behind
	// the announcement, so two empty turns drain both.
	for i := 0; i < 2; i++ {
		if err := r.loop.Sync(); err != nil {
			break
		}
	}
	return st, nil
}

// Form returns the current navigation request, if one is materialised.
func (r *Redirect) Form() (NavigationRequest, bool) {
	var (
		req NavigationRequest
		ok  bool
	)
	_ = r.loop.Do(func() {
		if r.form != nil {
			req, ok = *r.form, true
		}
	})
	return req, ok
}

// Submit announces the navigation to the host and, unless a listener
// cancels it, navigates on a later turn.
func (r *Redirect) Submit() {
	r.loop.Post(r.submit)
}

func (r *Redirect) autoSubmit() bool {
	if !r.attrs.has(AttrAutoSubmit) {
		return true
	}
	return ToBoolean(r.attrs.get(AttrAutoSubmit), true)
}

func (r *Redirect) resolve(initial bool) {
	u, ok := r.build()
	if !ok {
		r.form = nil
		return
	}
	method := http.MethodGet
	if strings.EqualFold(r.attrs.get(AttrMethod), http.MethodPost) {
		method = http.MethodPost
	}
	req := NavigationRequest{
		Method: method,
		Action: u.String(),
		Target: r.attrs.getOr(AttrTarget, DefaultTarget),
		Fields: destination.Params(u),
	}
	r.form = &req
	r.renderer.MountForm(req)
	r.log.Debug().Msg("form rendered: awaiting submission")
	// Scheduled before the ready transition so waiters queue behind it.
	if initial && r.autoSubmit() {
		r.loop.Post(r.submit)
	}
	r.ready()
}

func (r *Redirect) submit() {
	if r.form == nil || !r.connected {
		return
	}
	req := *r.form
	n := notify.Notification{
		Message: "Before redirect",
		Event:   notify.BeforeRedirect,
		Data:    map[string]string{"action": req.Action, "method": req.Method},
	}.Cancelable()
	r.emit(n)
	if n.Canceled() {
		metrics.RecordRedirect(req.Method, "cancelled")
		r.log.Debug().Msg("redirect cancelled by host")
		return
	}
	r.loop.Post(func() { r.navigate(req) })
}

func (r *Redirect) navigate(req NavigationRequest) {
	if !r.connected || r.nav == nil {
		return
	}
	if err := r.nav.Navigate(req); err != nil {
		metrics.RecordRedirect(req.Method, "error")
		r.log.Warn().Err(err).Str("action", req.Action).Msg("navigation failed")
		return
	}
	metrics.RecordRedirect(req.Method, "submitted")
}

func (r *Redirect) teardown() {}
