package handler

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"credproxy/internal/jarstore"
	"credproxy/internal/middleware"
	"credproxy/internal/service"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Sign in</title>
</head>
<body>
<h2>Sign in to {{.Backend}}</h2>
<form method="post" action="/">
  <input name="email" placeholder="E-mail" type="email" autocomplete="username" required><br>
  <input name="password" placeholder="Password" type="password" autocomplete="current-password" required><br>
  <button type="submit">Sign in</button>
</form>
</body>
</html>
`))

// LoginHandler serves the login form and relays submitted credentials.
type LoginHandler struct {
	service     *service.LoginService
	store       jarstore.Store
	backendHost string
	proxyPrefix string
	logger      *slog.Logger
}

// NewLoginHandler creates a LoginHandler.
func NewLoginHandler(svc *service.LoginService, store jarstore.Store, cfg Settings, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		service:     svc,
		store:       store,
		backendHost: cfg.BackendHost,
		proxyPrefix: cfg.ProxyPrefix,
		logger:      logger.With("component", "login_handler"),
	}
}

// Form renders the login form.
func (h *LoginHandler) Form(c echo.Context) error {
	var buf strings.Builder
	if err := loginPage.Execute(&buf, struct{ Backend string }{h.backendHost}); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.HTML(http.StatusOK, buf.String())
}

// Submit relays the posted credentials to the backend. Success redirects
// into the proxied area; failures answer with a plain-text message.
func (h *LoginHandler) Submit(c echo.Context) error {
	email := strings.TrimSpace(c.FormValue("email"))
	password := c.FormValue("password")
	if email == "" || password == "" {
		return c.String(http.StatusBadRequest, "E-mail and password are required.")
	}

	sessionID := middleware.SessionID(c)
	if sessionID == "" {
		return errors.New("login: no client session")
	}

	err := h.service.Login(c.Request().Context(), sessionID, email, password)
	switch {
	case err == nil:
		return c.Redirect(http.StatusFound, h.proxyPrefix)
	case errors.Is(err, service.ErrAuthFailure):
		h.logger.Info("login failed", "err", err)
		return c.String(http.StatusUnauthorized, "Login failed: the backend rejected the credentials.")
	case errors.Is(err, service.ErrNetworkFailure):
		h.logger.Error("login failed", "err", err)
		return c.String(http.StatusBadGateway, "Login failed: the backend could not be reached.")
	default:
		return err
	}
}

// Logout forgets the session's backend cookies.
func (h *LoginHandler) Logout(c echo.Context) error {
	if sessionID := middleware.SessionID(c); sessionID != "" {
		h.store.Delete(c.Request().Context(), sessionID)
	}
	return c.Redirect(http.StatusFound, "/")
}
