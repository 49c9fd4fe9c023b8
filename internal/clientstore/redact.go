package clientstore

import (
	"net/url"
	"strings"
)

// mask hides most of a secret: short values entirely, longer ones except
// their first and last characters.
func mask(s string) string {
	n := len(s)
	switch {
	case n == 0:
		return ""
	case n <= 5:
		return strings.Repeat("*", n)
	case n <= 20:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	default:
		return s[:3] + strings.Repeat("*", n-4) + s[n-1:]
	}
}

// Redact returns addr with any password masked, for logging.
func Redact(addr string) string {
	if !strings.Contains(addr, "://") {
		return addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "<invalid redis url>"
	}
	if pw, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), mask(pw))
	}
	q := u.Query()
	if pw := q.Get("sentinel_password"); pw != "" {
		q.Set("sentinel_password", mask(pw))
		u.RawQuery = q.Encode()
	}
	return u.String()
}
