package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/agent"
	"privacy-proxy-go/internal/config"
	"privacy-proxy-go/internal/model"
	"privacy-proxy-go/internal/service"
	"privacy-proxy-go/internal/session"
)

// ProxyHandler serves proxy addresses: it decodes the target, builds the
// per-response rewrite context and commits the relay's translated response.
type ProxyHandler struct {
	relay  *service.RelayService
	codec  addr.Codec
	cfg    *config.Config
	logger *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(relay *service.RelayService, codec addr.Codec, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		relay:  relay,
		codec:  codec,
		cfg:    cfg,
		logger: logger.With("component", "proxy_handler"),
	}
}

// Handle relays one proxy-addressed request. The URL in the address is the
// only routing input; everything else about the response is derived from the
// target's answer.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	target, err := h.codec.Decode(req.URL.Path, req.URL.Query())
	if err != nil {
		if req.Method == http.MethodGet {
			// The entry form and legacy bookmarks address targets as
			// /proxy?url=...; under the path scheme that is not a proxy
			// address, so re-encode and redirect into the active scheme.
			if raw := req.URL.Query().Get("url"); raw != "" {
				return h.enter(c, raw)
			}
			// A bare proxy path with a foreign query is a proxied form
			// that submitted its parameters against us. Graft the query
			// onto the last visited base and round-trip the browser.
			if encoded, ok := h.rebaseQuery(c); ok {
				return c.Redirect(http.StatusFound, encoded)
			}
		}
		return h.mapError(c, err)
	}

	rc := h.rewriteContext(c, target)
	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Header: req.Header,
		Body:   req.Body,
	}

	result, err := h.relay.Relay(rc, pr, req.Cookies())
	if err != nil {
		return h.mapError(c, err)
	}

	for key, vals := range result.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	for _, ck := range result.Cookies {
		c.SetCookie(ck)
	}
	// Remember the navigation base so bare-path requests (a page escaping
	// its rewritten links) can be rebased by the fallback route.
	if isNavigation(req) {
		c.SetCookie(session.BaseURLCookie(target.String(), rc.ProxySecure))
	}

	c.Response().WriteHeader(result.StatusCode)

	if result.Body == nil {
		return nil
	}
	// The status line is already committed; a mid-stream failure can only
	// truncate the payload. Log it and move on.
	if err := result.Body(c.Response()); err != nil {
		h.logger.Error("streaming response body", "err", err)
	}
	return nil
}

// enter normalizes user-entered text (scheme optional) and redirects to its
// proxy address under the active scheme.
func (h *ProxyHandler) enter(c echo.Context, raw string) error {
	target, err := addr.Normalize(raw)
	if err != nil {
		return h.mapError(c, err)
	}
	encoded, err := h.codec.Encode(target)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Redirect(http.StatusFound, encoded)
}

// rebaseQuery rebuilds a target for a bare proxy-path request carrying a
// query: the base URL from the session keeps its path, the stray query
// replaces its own. Returns false when no usable base is known.
func (h *ProxyHandler) rebaseQuery(c echo.Context) (string, bool) {
	req := c.Request()
	if req.URL.Path != addr.ProxyPath || req.URL.RawQuery == "" {
		return "", false
	}
	s := session.FromRequest(req, model.Session{})
	if s.BaseURL == "" {
		return "", false
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil || !base.IsAbs() {
		return "", false
	}
	target := *base
	target.RawQuery = req.URL.RawQuery
	target.Fragment = ""
	encoded, err := h.codec.Encode(&target)
	if err != nil {
		return "", false
	}
	return encoded, true
}

// rewriteContext assembles the immutable per-response context handed to every
// translator.
func (h *ProxyHandler) rewriteContext(c echo.Context, target *url.URL) *model.RewriteContext {
	req := c.Request()
	return &model.RewriteContext{
		Target:      target,
		ProxyHost:   req.Host,
		ProxySecure: h.proxySecure(c),
		Nonce:       agent.NewNonce(),
		Session: session.FromRequest(req, model.Session{
			JSEnabled:      h.cfg.Cookies.DefaultJSEnabled,
			CookiesEnabled: h.cfg.Cookies.DefaultEnabled,
		}),
	}
}

func (h *ProxyHandler) proxySecure(c echo.Context) bool {
	return h.cfg.Server.Secure || c.Scheme() == "https"
}

// isNavigation reports whether a request is a top-level document fetch, as
// opposed to a subresource load. Sec-Fetch-Mode is sent by every current
// browser; absent the header a GET for HTML is assumed to navigate.
func isNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return req.Method == http.MethodGet
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, addr.ErrInvalidTargetURL) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid or unrepresentable target URL",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "target did not respond in time",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "target host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "target connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "target fetch failed",
	})
}
