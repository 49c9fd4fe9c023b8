package surface

import "strings"

// Attribute names mirrored from the host.
const (
	AttrClientID       = "client-id"
	AttrRedirectURI    = "redirect-uri"
	AttrDataContext    = "data-context"
	AttrDebug          = "debug"
	AttrBaseSrc        = "base-src"
	AttrAutoSubmit     = "auto-submit"
	AttrMethod         = "method"
	AttrTarget         = "target"
	AttrSandbox        = "sandbox"
	AttrAllow          = "allow"
	AttrReferrerPolicy = "referrerpolicy"
	AttrTitle          = "title"
	AttrLoading        = "loading"
)

// Frame attribute defaults.
const (
	DefaultSandbox        = "allow-scripts allow-forms allow-same-origin allow-popups"
	DefaultAllow          = "payment *"
	DefaultReferrerPolicy = "no-referrer"
	DefaultTitle          = "Secure payment frame"
	DefaultLoading        = "eager"
)

// attributes holds the host-declared attributes. Absent and empty differ:
// a present boolean attribute with no value is true.
type attributes map[string]string

func (a attributes) get(name string) string { return a[name] }

func (a attributes) getOr(name, def string) string {
	if v := strings.TrimSpace(a[name]); v != "" {
		return v
	}
	return def
}

func (a attributes) has(name string) bool {
	_, ok := a[name]
	return ok
}

// extras returns every data-* attribute keyed without its prefix.
func (a attributes) extras() map[string]string {
	out := map[string]string{}
	for k, v := range a {
		if name, ok := strings.CutPrefix(k, "data-"); ok {
			out[name] = v
		}
	}
	return out
}

// ToBoolean interprets an attribute value. A present attribute with an empty
// value is true, as are "true", "1", "yes" and "on".
func ToBoolean(v string, present bool) bool {
	if !present {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "true", "1", "yes", "on":
		return true
	}
	return false
}
