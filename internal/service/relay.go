// Package service implements the relay pipeline that turns one browser
// request into one target-origin fetch and one translated response.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"privacy-proxy-go/internal/client"
	"privacy-proxy-go/internal/model"
	"privacy-proxy-go/internal/rewrite"
)

// RelayResult is the fully translated response, ready for the edge handler
// to commit. Body streams the (possibly rewritten) payload and owns the
// upstream body's lifetime; it is nil for bodiless statuses.
type RelayResult struct {
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       func(w io.Writer) error
}

// RelayService drives the translation pipeline: outbound header and cookie
// shaping, the single target fetch, then response header, cookie, redirect
// and content translation. Redirects are never followed; each hop goes back
// through the browser so its location stays in proxy address space.
type RelayService struct {
	client    *client.UpstreamClient
	headers   *rewrite.HeaderTranslator
	cookies   *rewrite.CookieTranslator
	redirects *rewrite.RedirectTranslator
	content   *rewrite.ContentRewriter
	logger    *slog.Logger
}

// NewRelayService creates a RelayService over the shared translators.
func NewRelayService(
	c *client.UpstreamClient,
	headers *rewrite.HeaderTranslator,
	cookies *rewrite.CookieTranslator,
	redirects *rewrite.RedirectTranslator,
	content *rewrite.ContentRewriter,
	logger *slog.Logger,
) *RelayService {
	return &RelayService{
		client:    c,
		headers:   headers,
		cookies:   cookies,
		redirects: redirects,
		content:   content,
		logger:    logger.With("component", "relay"),
	}
}

// Relay fetches rc.Target once and returns the translated response. Transport
// failures surface as errors for the handler's status mapping; HTTP error
// statuses from the target are not errors and relay through like any other
// response.
func (s *RelayService) Relay(rc *model.RewriteContext, pr *model.ProxyRequest, browserCookies []*http.Cookie) (*RelayResult, error) {
	outHeader := s.headers.OutboundRequest(rc, pr.Header)
	if cookieHeader := s.cookies.RequestCookieHeader(rc, browserCookies); cookieHeader != "" {
		outHeader.Set("Cookie", cookieHeader)
	}

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, rc.Target.String(), outHeader, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", rc.Target.Host, err)
	}

	result := &RelayResult{
		StatusCode: resp.StatusCode,
		Header:     s.headers.FilterResponse(resp.Header),
		Cookies:    s.cookies.RewriteSetCookies(rc, resp.Header.Values("Set-Cookie")),
	}
	s.headers.ApplyCORS(result.Header, pr.Header.Get("Origin"))
	// Every HTML document gets the synthesized policy, rewritten or not.
	// On a passed-through document nothing carries the nonce, so the
	// JS-disabled policy blocks every script outright.
	if hasMediaType(resp.Header, "text/html") {
		result.Header.Set("Content-Security-Policy", rewrite.SynthesizeCSP(rc))
	}

	if isRedirect(resp.StatusCode) {
		defer func() { _ = resp.Body.Close() }()
		return s.translateRedirect(rc, resp, result)
	}

	if !bodyAllowed(resp.StatusCode) || pr.Method == http.MethodHead {
		_ = resp.Body.Close()
		return result, nil
	}

	// Only successful bodies are rewritten; error pages and other non-2xx
	// payloads relay verbatim (still under the synthesized CSP).
	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	switch {
	case success && s.rewritableHTML(resp):
		// The rewritten length is unknowable up front.
		result.Header.Del("Content-Length")
		result.Body = func(w io.Writer) error {
			defer func() { _ = resp.Body.Close() }()
			return s.content.Rewrite(w, resp.Body, rc)
		}

	case success && s.rewritableCSS(resp):
		result.Header.Del("Content-Length")
		result.Body = func(w io.Writer) error {
			defer func() { _ = resp.Body.Close() }()
			css, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			_, err = io.WriteString(w, s.content.RewriteStylesheet(rc, string(css)))
			return err
		}

	default:
		result.Body = func(w io.Writer) error {
			defer func() { _ = resp.Body.Close() }()
			_, err := io.Copy(w, resp.Body)
			return err
		}
	}

	return result, nil
}

// translateRedirect maps the target's Location into proxy address space. A
// redirect whose target the codec cannot represent is surfaced as an
// ErrInvalidTargetURL so the handler can report it instead of letting the
// browser escape the proxy.
func (s *RelayService) translateRedirect(rc *model.RewriteContext, resp *model.ProxyResponse, result *RelayResult) (*RelayResult, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return result, nil
	}
	translated, err := s.redirects.Rewrite(rc, location)
	if err != nil {
		return nil, fmt.Errorf("translate redirect: %w", err)
	}
	result.Header.Set("Location", translated)
	s.logger.Debug("redirect translated", "status", resp.StatusCode)
	return result, nil
}

// rewritableHTML reports whether the response is an HTML document the content
// rewriter can stream. A body the transport did not decompress (e.g. br) is
// passed through untouched rather than corrupted.
func (s *RelayService) rewritableHTML(resp *model.ProxyResponse) bool {
	return hasMediaType(resp.Header, "text/html") && identityEncoded(resp.Header)
}

// rewritableCSS reports whether the response is a stylesheet to rewrite.
func (s *RelayService) rewritableCSS(resp *model.ProxyResponse) bool {
	return hasMediaType(resp.Header, "text/css") && identityEncoded(resp.Header)
}

func hasMediaType(h http.Header, mediaType string) bool {
	ct := strings.ToLower(h.Get("Content-Type"))
	return strings.HasPrefix(strings.TrimSpace(ct), mediaType)
}

func identityEncoded(h http.Header) bool {
	enc := strings.ToLower(strings.TrimSpace(h.Get("Content-Encoding")))
	return enc == "" || enc == "identity"
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// bodyAllowed mirrors the statuses that carry no payload.
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	default:
		return true
	}
}
