// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request to be forwarded to a target origin.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Header http.Header
	Body   io.ReadCloser
}

// ProxyResponse represents the target origin's response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Session holds the browser-side preferences carried in bookkeeping cookies.
// It is read once per inbound request and never written by proxied origins.
type Session struct {
	// BaseURL is the last visited absolute target base URL, or empty.
	BaseURL string
	// JSEnabled controls whether proxied pages may execute their own scripts.
	JSEnabled bool
	// CookiesEnabled controls whether origin cookies pass in either direction.
	CookiesEnabled bool
}

// RewriteContext is the per-response immutable context consumed by the
// header, cookie, redirect and content translators. It is constructed once
// per inbound request and owned exclusively by that request/response cycle.
type RewriteContext struct {
	// Target is the decoded absolute URL of the real resource.
	Target *url.URL
	// ProxyHost is the host (with port, if any) the browser reached us on.
	ProxyHost string
	// ProxySecure reports whether the browser-facing connection is HTTPS.
	ProxySecure bool
	// Nonce is the per-response CSP nonce; freshly random for every response.
	Nonce string
	// Session holds the client's preferences at the time of the request.
	Session Session
}

// TargetRoot returns the scheme://host origin of the target URL.
func (rc *RewriteContext) TargetRoot() string {
	return rc.Target.Scheme + "://" + rc.Target.Host
}
