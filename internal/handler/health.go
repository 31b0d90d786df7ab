package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"credproxy/internal/jarstore"
)

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	settings Settings
	store    jarstore.Store
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg Settings, store jarstore.Store, v Version) *HealthHandler {
	return &HealthHandler{settings: cfg, store: store, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"backend_url":  h.settings.BackendURL,
		"proxy_prefix": h.settings.ProxyPrefix,
		"jar_store":    jarstore.Kind(h.store),
	})
}
