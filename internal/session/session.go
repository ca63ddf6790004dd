// Package session reads and writes the proxy's bookkeeping cookies. These
// carry browser-side state across navigations: the last visited target base
// URL and the per-client privacy flags. They are reserved names, never
// forwarded to a target origin and never writable by one.
package session

import (
	"net/http"
	"net/url"
	"strings"

	"privacy-proxy-go/internal/model"
)

// Reserved bookkeeping cookie names.
const (
	CookieBaseURL        = "proxy-current-url"
	CookieJSEnabled      = "proxy-js-enabled"
	CookieCookiesEnabled = "proxy-cookies-enabled"
)

// ReservedPrefix guards the whole bookkeeping namespace: any cookie whose name
// starts with this prefix is proxy-internal.
const ReservedPrefix = "proxy-"

// IsReserved reports whether a cookie name belongs to the proxy's
// bookkeeping namespace.
func IsReserved(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), ReservedPrefix)
}

// FromRequest builds the client session state from the request's bookkeeping
// cookies. Missing or malformed cookies fall back to the given defaults.
func FromRequest(r *http.Request, defaults model.Session) model.Session {
	s := model.Session{
		JSEnabled:      boolCookie(r, CookieJSEnabled, defaults.JSEnabled),
		CookiesEnabled: boolCookie(r, CookieCookiesEnabled, defaults.CookiesEnabled),
	}
	if c, err := r.Cookie(CookieBaseURL); err == nil && c.Value != "" {
		if raw, err := url.QueryUnescape(c.Value); err == nil {
			if u, err := url.Parse(raw); err == nil && u.IsAbs() {
				s.BaseURL = u.String()
			}
		}
	}
	return s
}

// BaseURLCookie returns the Set-Cookie carrying the last visited target base
// URL, for the relay's fallback route.
func BaseURLCookie(baseURL string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieBaseURL,
		Value:    url.QueryEscape(baseURL),
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func boolCookie(r *http.Request, name string, fallback bool) bool {
	c, err := r.Cookie(name)
	if err != nil {
		return fallback
	}
	switch c.Value {
	case "true":
		return true
	case "false":
		return false
	default:
		return fallback
	}
}
