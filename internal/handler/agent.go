package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"privacy-proxy-go/internal/agent"
)

// AgentHandler serves the interception agent's service worker script.
type AgentHandler struct {
	scripts *agent.Scripts
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(scripts *agent.Scripts) *AgentHandler {
	return &AgentHandler{scripts: scripts}
}

// ServiceWorker serves the worker script. Service-Worker-Allowed widens the
// registration scope to the whole origin, and no-cache keeps deployed script
// changes from being pinned by the browser's worker update checks.
func (h *AgentHandler) ServiceWorker(c echo.Context) error {
	c.Response().Header().Set("Service-Worker-Allowed", "/")
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, "application/javascript; charset=utf-8", []byte(h.scripts.ServiceWorkerJS()))
}
