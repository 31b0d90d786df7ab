package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"credproxy/internal/middleware"
	"credproxy/internal/model"
	"credproxy/internal/service"
)

// ProxyHandler forwards browsing requests under the proxy prefix to the backend.
type ProxyHandler struct {
	service *service.ForwardService
	prefix  string
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ForwardService, cfg Settings, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		prefix:  cfg.ProxyPrefix,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request to the backend and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxiedRequest{
		Ctx:       req.Context(),
		SessionID: middleware.SessionID(c),
		Path:      strings.TrimPrefix(req.URL.EscapedPath(), h.prefix),
		RawQuery:  req.URL.RawQuery,
		Header:    req.Header,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent, so a failure mid-stream leaves the client
	// with a truncated body; it is only logged.
	n, err := io.Copy(c.Response(), resp.Body)
	if err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
			"mode", resp.Mode.String(),
		)
		return nil
	}

	h.logger.Debug("proxied response",
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"mode", resp.Mode.String(),
		"content_type", resp.ContentType,
		"backend_ms", resp.Elapsed.Milliseconds(),
		"bytes", n,
	)
	return nil
}

// Root redirects the bare prefix (without trailing slash) to the proxy root.
func (h *ProxyHandler) Root(c echo.Context) error {
	return c.Redirect(http.StatusFound, h.prefix)
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrUnauthenticated) {
		return c.Redirect(http.StatusFound, "/")
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if isTimeout(err) {
		return c.String(http.StatusBadGateway, "Bad gateway: the backend timed out.")
	}

	if errors.Is(err, context.Canceled) {
		return c.String(http.StatusBadGateway, "Bad gateway: the request was canceled.")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.String(http.StatusBadGateway, "Bad gateway: the backend host could not be resolved.")
	}

	return c.String(http.StatusBadGateway, "Bad gateway: the backend could not be reached.")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
