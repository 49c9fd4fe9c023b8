// Package destination builds the parameterised URL a payment surface loads or
// navigates to.
package destination

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gaspardpetit/detpay/internal/clientcfg"
)

var (
	// ErrRedirectMismatch means the requested redirect URI is not in the
	// client's allow-list. The destination is unbuildable.
	ErrRedirectMismatch = errors.New("redirect URI mismatch")
	// ErrInvalidBase means the base URL or origin cannot be parsed.
	ErrInvalidBase = errors.New("invalid base destination")
)

// Query parameter names that are fixed on the wire.
const (
	ParamClientID    = "client_id"
	ParamRedirectURI = "redirect_uri"
)

// Request carries the caller-supplied inputs for one build.
type Request struct {
	ClientID     string
	RedirectURI  string
	ContextValue string
}

// Param is a single query parameter in wire order.
type Param struct {
	Name  string
	Value string
}

// Build derives the destination URL from base, the active configuration and
// req. Parameters are appended in the order client_id, redirect_uri, then the
// configuration's data key. Callers must gate on a non-empty client id and a
// present configuration before calling.
func Build(base string, cfg *clientcfg.ClientConfiguration, req Request) (*url.URL, error) {
	u, err := ParseBase(base, "")
	if err != nil {
		return nil, err
	}
	var params []Param
	if req.ClientID != "" {
		params = append(params, Param{ParamClientID, req.ClientID})
	}
	if req.RedirectURI != "" {
		if !cfg.HasRedirect(req.RedirectURI) {
			return nil, fmt.Errorf("%w: %s", ErrRedirectMismatch, req.RedirectURI)
		}
		params = append(params, Param{ParamRedirectURI, req.RedirectURI})
	}
	if req.ContextValue != "" && cfg != nil && cfg.DataKey != "" {
		params = append(params, Param{cfg.DataKey, req.ContextValue})
	}
	u.RawQuery = appendQuery(u.RawQuery, params)
	return u, nil
}

// ParseBase parses raw as an absolute URL. A relative raw is resolved against
// documentBase when one is given.
func ParseBase(raw, documentBase string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBase)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase, err)
	}
	if !u.IsAbs() && documentBase != "" {
		b, err := url.Parse(documentBase)
		if err != nil || !b.IsAbs() {
			return nil, fmt.Errorf("%w: document base %q", ErrInvalidBase, documentBase)
		}
		u = b.ResolveReference(u)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidBase, raw)
	}
	return u, nil
}

// Origin returns the scheme://host[:port] of raw. Default ports are elided the
// way browsers serialise origins.
func Origin(raw string) (string, error) {
	u, err := ParseBase(raw, "")
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	switch port := u.Port(); {
	case port == "":
	case scheme == "https" && port == "443", scheme == "http" && port == "80":
	default:
		host += ":" + port
	}
	return scheme + "://" + host, nil
}

// Params returns the query parameters of u in wire order, including any that
// were present on the base.
func Params(u *url.URL) []Param {
	if u == nil || u.RawQuery == "" {
		return nil
	}
	var out []Param
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		n, err := url.QueryUnescape(name)
		if err != nil {
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		out = append(out, Param{Name: n, Value: v})
	}
	return out
}

// url.Values.Encode sorts by key, which would break the fixed wire order.
func appendQuery(raw string, params []Param) string {
	var b strings.Builder
	b.WriteString(raw)
	for _, p := range params {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}
