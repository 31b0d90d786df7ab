package handler

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg Settings, login *LoginHandler, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.GET("/", login.Form)
	e.POST("/", login.Submit)
	e.GET("/logout", login.Logout)
	e.POST("/logout", login.Logout)

	e.GET(strings.TrimSuffix(cfg.ProxyPrefix, "/"), proxy.Root)
	e.GET(cfg.ProxyPrefix, proxy.Handle)
	e.GET(cfg.ProxyPrefix+"*", proxy.Handle)
}
