// Package render turns a surface's visual state into an HTML document.
package render

import (
	_ "embed"
	"html/template"
	"io"
	"sync"

	"github.com/gaspardpetit/detpay/internal/surface"
)

//go:embed page.html.tmpl
var pageHTML string

var pageTmpl = template.Must(template.New("page").Parse(pageHTML))

// Views a Page can be in.
const (
	ViewLoading = "loading"
	ViewError   = "error"
	ViewFrame   = "frame"
	ViewForm    = "form"
)

// Meta is the per-request data a Page is rendered with.
type Meta struct {
	Title     string
	SurfaceID string
	// EventsPath, when set, is the notification stream the page subscribes to.
	EventsPath string
	// ParentOrigins are the only origins notifications are relayed to when
	// the page is itself framed. Empty disables the relay.
	ParentOrigins []string
}

type pageData struct {
	Meta
	View       string
	ErrorText  string
	Frame      surface.FrameSpec
	Form       surface.NavigationRequest
	MinHeight  float64
	AutoSubmit bool
}

// Page records the visual state requested by a surface. It implements
// surface.Renderer and is safe for use from the surface loop and from HTTP
// handlers at the same time.
type Page struct {
	mu   sync.Mutex
	data pageData
}

// NewPage returns a page in the loading view.
func NewPage() *Page {
	return &Page{data: pageData{View: ViewLoading}}
}

func (p *Page) ShowLoading() {
	p.mu.Lock()
	p.data.View = ViewLoading
	p.mu.Unlock()
}

func (p *Page) ShowError(message string) {
	p.mu.Lock()
	p.data.View, p.data.ErrorText = ViewError, message
	p.data.AutoSubmit = false
	p.mu.Unlock()
}

func (p *Page) MountFrame(spec surface.FrameSpec) {
	p.mu.Lock()
	p.data.View, p.data.Frame = ViewFrame, spec
	p.mu.Unlock()
}

func (p *Page) MountForm(req surface.NavigationRequest) {
	p.mu.Lock()
	p.data.View, p.data.Form = ViewForm, req
	p.data.AutoSubmit = false
	p.mu.Unlock()
}

func (p *Page) SetMinHeight(px float64) {
	p.mu.Lock()
	p.data.MinHeight = px
	p.mu.Unlock()
}

// View returns the current view name.
func (p *Page) View() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.View
}

// Render writes the page as HTML.
func (p *Page) Render(w io.Writer, m Meta) error {
	p.mu.Lock()
	d := p.data
	p.mu.Unlock()
	d.Meta = m
	if d.Title == "" {
		d.Title = "DET Pay"
	}
	return pageTmpl.Execute(w, d)
}

// FormNavigator navigates by having the rendered page submit its form. It
// implements surface.NavigationTarget.
type FormNavigator struct {
	Page *Page
}

func (n FormNavigator) Navigate(req surface.NavigationRequest) error {
	n.Page.mu.Lock()
	defer n.Page.mu.Unlock()
	if n.Page.data.View != ViewForm || n.Page.data.Form.Action != req.Action {
		n.Page.data.View, n.Page.data.Form = ViewForm, req
	}
	n.Page.data.AutoSubmit = true
	return nil
}
