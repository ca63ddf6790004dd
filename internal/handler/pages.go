package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/model"
	"privacy-proxy-go/internal/rewrite"
	"privacy-proxy-go/internal/session"
)

// landingPage is the proxy's own start page: the address form, the privacy
// toggles and the service worker registration. It is served under the
// restrictive LandingCSP, not the synthesized per-target policy.
const landingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Privacy Proxy</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 4rem auto; padding: 0 1rem; }
form { display: flex; gap: .5rem; margin: 1.5rem 0; }
input[name=url] { flex: 1; padding: .6rem; font-size: 1rem; }
button { padding: .6rem 1.2rem; font-size: 1rem; cursor: pointer; }
label { display: block; margin: .4rem 0; }
</style>
</head>
<body>
<h1>Privacy Proxy</h1>
<p>Browse through this server. Target sites see the proxy, not you.</p>
<form action="/proxy" method="get">
<input name="url" type="text" placeholder="example.com" autofocus required>
<button type="submit">Go</button>
</form>
<label><input type="checkbox" id="js-toggle"> Allow page JavaScript</label>
<label><input type="checkbox" id="cookies-toggle"> Allow site cookies</label>
<script>
(function () {
  'use strict';
  function readCookie(name) {
    var m = document.cookie.match(new RegExp('(?:^|; )' + name + '=([^;]*)'));
    return m ? m[1] : null;
  }
  function bindToggle(id, name, fallback) {
    var box = document.getElementById(id);
    var v = readCookie(name);
    box.checked = v === null ? fallback : v === 'true';
    box.addEventListener('change', function () {
      document.cookie = name + '=' + box.checked + '; path=/; samesite=lax';
    });
  }
  bindToggle('js-toggle', 'proxy-js-enabled', true);
  bindToggle('cookies-toggle', 'proxy-cookies-enabled', true);
  if ('serviceWorker' in navigator) {
    navigator.serviceWorker.register('/sw.js', { scope: '/' });
  }
})();
</script>
</body>
</html>
`

// PageHandler serves the proxy's own pages: the landing form and the
// fallback route that rebases escaped paths onto the last visited target.
type PageHandler struct {
	codec  addr.Codec
	logger *slog.Logger
}

// NewPageHandler creates a PageHandler.
func NewPageHandler(codec addr.Codec, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		codec:  codec,
		logger: logger.With("component", "page_handler"),
	}
}

// Landing serves the start page.
func (h *PageHandler) Landing(c echo.Context) error {
	c.Response().Header().Set("Content-Security-Policy", rewrite.LandingCSP)
	return c.HTML(http.StatusOK, landingPage)
}

// Fallback catches requests for paths that are neither control routes nor
// proxy addresses. These are almost always a proxied page reaching for a
// root-relative resource that slipped past rewriting (a script-built URL,
// a CSS import the browser resolved itself). When a last-visited base is
// known, the path is rebased onto it and redirected into proxy space.
func (h *PageHandler) Fallback(c echo.Context) error {
	req := c.Request()

	s := session.FromRequest(req, model.Session{})
	if s.BaseURL == "" {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	base, err := addr.Normalize(s.BaseURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	ref := req.URL.Path
	if req.URL.RawQuery != "" {
		ref += "?" + req.URL.RawQuery
	}
	target, err := base.Parse(ref)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	encoded, err := h.codec.Encode(target)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	h.logger.Debug("rebased stray path", "path", req.URL.Path)
	return c.Redirect(http.StatusFound, encoded)
}
