package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gaspardpetit/detpay/internal/destination"
	"github.com/gaspardpetit/detpay/internal/surface"
)

func render(t *testing.T, p *Page, m Meta) string {
	t.Helper()
	var buf bytes.Buffer
	if err := p.Render(&buf, m); err != nil {
		t.Fatalf("render: %v", err)
	}
	return buf.String()
}

func TestPageLoadingAndError(t *testing.T) {
	p := NewPage()
	if out := render(t, p, Meta{}); !strings.Contains(out, "det-pay-loader") {
		t.Fatalf("loader missing:\n%s", out)
	}
	p.ShowError("Redirect URI mismatch.")
	out := render(t, p, Meta{})
	if !strings.Contains(out, `role="alert">Redirect URI mismatch.</div>`) || strings.Contains(out, "<iframe") {
		t.Fatalf("unexpected error page:\n%s", out)
	}
}

func TestPageFrame(t *testing.T) {
	p := NewPage()
	p.MountFrame(surface.FrameSpec{
		Src:            "https://pay.det.co/iframe?client_id=c1&ctx=a%22b",
		Sandbox:        surface.DefaultSandbox,
		Allow:          surface.DefaultAllow,
		ReferrerPolicy: surface.DefaultReferrerPolicy,
		Title:          surface.DefaultTitle,
		Loading:        surface.DefaultLoading,
	})
	p.SetMinHeight(250)
	out := render(t, p, Meta{SurfaceID: "s1", EventsPath: "/events/s1"})
	for _, want := range []string{
		`src="https://pay.det.co/iframe?client_id=c1&amp;ctx=a%22b"`,
		`sandbox="allow-scripts allow-forms allow-same-origin allow-popups"`,
		`style="min-height: 250px"`,
		`new WebSocket(`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in:\n%s", want, out)
		}
	}
}

func TestPageFormAutoSubmit(t *testing.T) {
	p := NewPage()
	req := surface.NavigationRequest{
		Method: "POST",
		Action: "https://pay.det.co/redirect?client_id=c1",
		Target: "_self",
		Fields: []destination.Param{{Name: "client_id", Value: "c1"}, {Name: "ctx", Value: "<x>"}},
	}
	p.MountForm(req)
	out := render(t, p, Meta{})
	if !strings.Contains(out, `<input type="hidden" name="ctx" value="&lt;x&gt;">`) {
		t.Fatalf("hidden field not escaped:\n%s", out)
	}
	if strings.Contains(out, ".submit()") {
		t.Fatalf("form must not submit before navigation")
	}
	if err := (FormNavigator{Page: p}).Navigate(req); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if out := render(t, p, Meta{}); !strings.Contains(out, `getElementById("det-pay-form").submit()`) {
		t.Fatalf("auto-submit script missing:\n%s", out)
	}
	if p.View() != ViewForm {
		t.Fatalf("view = %s", p.View())
	}
}

func TestPageRelaysOnlyToParentOrigins(t *testing.T) {
	p := NewPage()
	out := render(t, p, Meta{SurfaceID: "s1", EventsPath: "/events/s1"})
	if strings.Contains(out, "postMessage") {
		t.Fatalf("relay enabled without parent origins:\n%s", out)
	}
	out = render(t, p, Meta{SurfaceID: "s1", EventsPath: "/events/s1", ParentOrigins: []string{"https://shop.example"}})
	if !strings.Contains(out, "postMessage(n, o)") || !strings.Contains(out, "shop.example") {
		t.Fatalf("relay to parent origin missing:\n%s", out)
	}
	if strings.Contains(out, `"*"`) {
		t.Fatalf("wildcard target origin in:\n%s", out)
	}
}
