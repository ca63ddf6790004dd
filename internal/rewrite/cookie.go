package rewrite

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/model"
	"privacy-proxy-go/internal/session"
)

// CookieTranslator rescopes origin cookies into proxy address space on the
// way out and filters the browser's cookies on the way in.
type CookieTranslator struct {
	codec  addr.Codec
	maxAge time.Duration
	logger *slog.Logger
}

// NewCookieTranslator creates a CookieTranslator. maxAge caps the lifetime of
// every rewritten cookie so they cannot outlive a short proxy session.
func NewCookieTranslator(codec addr.Codec, maxAge time.Duration, logger *slog.Logger) *CookieTranslator {
	return &CookieTranslator{
		codec:  codec,
		maxAge: maxAge,
		logger: logger.With("component", "cookie_translator"),
	}
}

// RewriteSetCookies translates the target's Set-Cookie headers for the
// browser. Each cookie loses its Domain, gets a Path scoped to the governing
// host's proxy-address prefix, and has its lifetime capped. Cookies are
// dropped entirely when the session disables them, and a target can never set
// a cookie in the proxy's reserved bookkeeping namespace.
func (t *CookieTranslator) RewriteSetCookies(rc *model.RewriteContext, setCookies []string) []*http.Cookie {
	if !rc.Session.CookiesEnabled {
		return nil
	}

	out := make([]*http.Cookie, 0, len(setCookies))
	for _, raw := range setCookies {
		c, err := http.ParseSetCookie(raw)
		if err != nil {
			t.logger.Debug("dropping unparsable Set-Cookie", "err", err)
			continue
		}
		if session.IsReserved(c.Name) {
			t.logger.Warn("target attempted to set reserved cookie", "name", c.Name, "host", rc.Target.Host)
			continue
		}

		host := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
		if host == "" {
			host = strings.ToLower(rc.Target.Hostname())
		}

		c.Domain = ""
		c.Path = t.codec.ScopePath(rc.Target.Scheme, host)
		c.Secure = c.Secure && rc.ProxySecure
		t.capLifetime(c)
		out = append(out, c)
	}
	return out
}

// capLifetime bounds Expires/Max-Age at the configured maximum. Session
// cookies stay session cookies.
func (t *CookieTranslator) capLifetime(c *http.Cookie) {
	limit := int(t.maxAge.Seconds())
	if c.MaxAge > limit {
		c.MaxAge = limit
	}
	if !c.Expires.IsZero() {
		latest := time.Now().Add(t.maxAge)
		if c.Expires.After(latest) {
			c.Expires = latest
		}
	}
}

// RequestCookieHeader builds the Cookie header to forward to the target.
// Bookkeeping cookies never leave the proxy, and a cookie-less client is
// presented when the session disables cookies.
func (t *CookieTranslator) RequestCookieHeader(rc *model.RewriteContext, cookies []*http.Cookie) string {
	if !rc.Session.CookiesEnabled {
		return ""
	}
	var pairs []string
	for _, c := range cookies {
		if session.IsReserved(c.Name) {
			continue
		}
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}
