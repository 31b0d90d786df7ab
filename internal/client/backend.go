// Package client provides the HTTP client used to reach the backend.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"credproxy/internal/config"
	"credproxy/internal/metrics"
)

// maxRedirects matches the net/http default policy.
const maxRedirects = 10

// BackendClient sends requests to the backend. Connections are pooled, but
// every call gets its own http.Client and cookie jar so no session state
// outlives a call or crosses between client sessions.
type BackendClient struct {
	transport http.RoundTripper
	userAgent string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable backend metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	timeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Backend.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	userAgent := cfg.Backend.UserAgent
	if userAgent == "" {
		userAgent = "credproxy/1.0"
	}

	return &BackendClient{
		transport: transport,
		userAgent: userAgent,
		logger:    logger.With("component", "backend_client"),
		metrics:   m,
	}
}

// Do sends a request to targetURL with jar attached and follows redirects.
// The caller is responsible for closing the response body.
//
// ctx bounds the whole exchange; when it is canceled (e.g. the client
// disconnects) the backend request is canceled too.
func (c *BackendClient) Do(ctx context.Context, method, targetURL string, header http.Header, body io.Reader, jar http.CookieJar) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating backend request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	hc := &http.Client{
		Transport: c.transport,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	start := time.Now()
	resp, err := hc.Do(req) //nolint:bodyclose // body ownership transfers to caller
	elapsed := time.Since(start)

	if c.metrics != nil {
		c.metrics.BackendDuration.WithLabelValues(metrics.NormalizeMethod(method)).Observe(elapsed.Seconds())
	}

	if err != nil {
		c.logger.Error("backend request failed",
			"method", method,
			"url", targetURL,
			"duration_ms", elapsed.Milliseconds(),
			"err", err,
		)
		return nil, fmt.Errorf("backend request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.BackendResponses.WithLabelValues(metrics.NormalizeMethod(method), strconv.Itoa(resp.StatusCode)).Inc()
	}
	c.logger.Info("backend request",
		"method", method,
		"url", targetURL,
		"status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)

	return resp, nil
}

// CloseIdleConnections closes pooled connections that are not in use.
func (c *BackendClient) CloseIdleConnections() {
	if t, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}
