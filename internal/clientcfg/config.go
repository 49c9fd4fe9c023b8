// Package clientcfg fetches and holds the per-client trust configuration that
// bounds what a payment surface may load, redirect to and accept messages from.
package clientcfg

import "slices"

// ClientConfiguration is the trust boundary for one client. It is immutable
// once received.
type ClientConfiguration struct {
	ID             string   `json:"id" yaml:"id"`
	RedirectURLs   []string `json:"redirectUrls" yaml:"redirect_urls"`
	DataKey        string   `json:"dataKey" yaml:"data_key"`
	Nonce          string   `json:"nonce" yaml:"nonce"`
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowed_origins"`
}

// HasRedirect reports whether uri is listed verbatim in the redirect allow-list.
func (c *ClientConfiguration) HasRedirect(uri string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.RedirectURLs, uri)
}

// OriginAllowed reports whether origin is listed in the allowed origins.
func (c *ClientConfiguration) OriginAllowed(origin string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.AllowedOrigins, origin)
}

// Clone returns a deep copy so callers cannot mutate a shared configuration.
func (c *ClientConfiguration) Clone() *ClientConfiguration {
	if c == nil {
		return nil
	}
	out := *c
	out.RedirectURLs = slices.Clone(c.RedirectURLs)
	out.AllowedOrigins = slices.Clone(c.AllowedOrigins)
	return &out
}
