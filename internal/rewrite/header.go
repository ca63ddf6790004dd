// Package rewrite implements the per-request translation pipeline: header,
// cookie and redirect translation plus the streaming HTML content rewriter.
// Every function is keyed only by the immutable RewriteContext, so the
// package holds no state across requests.
package rewrite

import (
	"net/http"
	"net/url"
	"strings"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/model"
)

// forwardableRequestHeaders are the only request headers forwarded to the
// target origin (besides Sec-CH-* client hints). Everything else is dropped,
// which also strips edge-infrastructure headers like X-Forwarded-For.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Accept-Charset",
	"Content-Type",
	"Content-Length",
	"Authorization",
	"Range",
	"User-Agent",
}

// droppedResponseHeaders are removed from every target response before it
// reaches the browser: origin security policies the proxy replaces with its
// own, and hop-by-hop headers. Set-Cookie and Location are handled by the
// cookie and redirect translators.
var droppedResponseHeaders = map[string]bool{
	"Content-Security-Policy":             true,
	"Content-Security-Policy-Report-Only": true,
	"X-Frame-Options":                     true,
	"X-Xss-Protection":                    true,
	"Strict-Transport-Security":           true,
	"Public-Key-Pins":                     true,
	"Expect-Ct":                           true,
	"Connection":                          true,
	"Keep-Alive":                          true,
	"Transfer-Encoding":                   true,
	"Upgrade":                             true,
	"Trailer":                             true,
	"Te":                                  true,
	"Set-Cookie":                          true,
	"Location":                            true,
}

// HeaderTranslator builds outbound request headers and synthesizes response
// headers for proxied content.
type HeaderTranslator struct {
	codec addr.Codec
}

// NewHeaderTranslator creates a HeaderTranslator over the active codec.
func NewHeaderTranslator(codec addr.Codec) *HeaderTranslator {
	return &HeaderTranslator{codec: codec}
}

// OutboundRequest returns the headers to send to the target origin: the
// semantic allow-list, client hints, a translated Referer and an Origin
// matching the target.
func (t *HeaderTranslator) OutboundRequest(rc *model.RewriteContext, src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	for key, vals := range src {
		if strings.HasPrefix(strings.ToLower(key), "sec-ch-") {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}

	dst.Set("Referer", t.translateReferer(rc, src.Get("Referer")))
	dst.Set("Origin", rc.TargetRoot())
	return dst
}

// translateReferer maps the browser's Referer into target address space. A
// referer that decodes to a proxy address becomes the absolute target it
// encoded; anything else defaults to the target's own root so the proxy host
// never leaks to the origin.
func (t *HeaderTranslator) translateReferer(rc *model.RewriteContext, referer string) string {
	root := rc.TargetRoot() + "/"
	if referer == "" {
		return root
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host != rc.ProxyHost {
		return root
	}
	target, err := t.codec.Decode(u.Path, u.Query())
	if err != nil {
		return root
	}
	return target.String()
}

// FilterResponse copies the target's response headers minus the dropped set.
func (t *HeaderTranslator) FilterResponse(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if droppedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}

// ApplyCORS sets permissive cross-origin headers. The interception agent
// fetches proxied resources in cors mode with credentials, which forbids the
// wildcard origin, so the requesting origin is echoed when present.
func (t *HeaderTranslator) ApplyCORS(dst http.Header, requestOrigin string) {
	if requestOrigin != "" {
		dst.Set("Access-Control-Allow-Origin", requestOrigin)
		dst.Set("Access-Control-Allow-Credentials", "true")
	} else {
		dst.Set("Access-Control-Allow-Origin", "*")
	}
	dst.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS")
	dst.Set("Access-Control-Allow-Headers", "*")
}

// SynthesizeCSP builds the Content-Security-Policy for a proxied document.
// With JS enabled the script-src is broad; with JS disabled it names exactly
// the per-response nonce carried by the injected interception script, so no
// other script may execute.
func SynthesizeCSP(rc *model.RewriteContext) string {
	scriptSrc := "'nonce-" + rc.Nonce + "'"
	if rc.Session.JSEnabled {
		scriptSrc += " 'self' 'unsafe-inline' 'unsafe-eval' *"
	}
	directives := []string{
		"default-src 'self' data: blob: *",
		"script-src " + scriptSrc,
		"style-src 'self' 'unsafe-inline' *",
		"img-src 'self' data: blob: *",
		"font-src 'self' data: *",
		"connect-src 'self'",
		"media-src 'self' blob: *",
		"worker-src 'self'",
		"form-action 'self'",
		"frame-src 'none'",
		"frame-ancestors 'none'",
		"object-src 'none'",
		"base-uri 'self'",
	}
	return strings.Join(directives, "; ")
}

// LandingCSP is the origin-restrictive policy for the proxy's own pages.
const LandingCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; img-src 'self' data:; font-src 'self' data:; " +
	"connect-src 'self'; object-src 'none'; base-uri 'self'; form-action 'self'; frame-src 'none'"
