package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/config"
	"privacy-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Proxy
// addresses of both schemes land on the proxy handler: the query scheme on
// the bare proxy path, the path scheme on everything beneath it. Every path
// that matches nothing else goes to the rebasing fallback.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	proxy *ProxyHandler,
	pages *PageHandler,
	agent *AgentHandler,
	health *HealthHandler,
	m *metrics.Metrics,
) {
	e.GET("/", pages.Landing)
	e.GET(addr.AgentScriptPath, agent.ServiceWorker)
	e.GET(addr.HealthPath, health.Healthz)
	e.GET(addr.StatusPath, health.Status)

	e.Any(addr.ProxyPath, proxy.Handle)
	e.Any(addr.ProxyPath+"/*", proxy.Handle)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	e.RouteNotFound("/*", pages.Fallback)
}
