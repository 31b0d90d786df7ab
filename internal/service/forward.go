package service

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"credproxy/internal/client"
	"credproxy/internal/config"
	"credproxy/internal/jarstore"
	"credproxy/internal/metrics"
	"credproxy/internal/model"
	"credproxy/internal/rewrite"
)

// forwardableRequestHeaders are the only request headers forwarded to the backend.
// Accept-Encoding is left to the transport so compressed bodies arrive decoded.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"User-Agent",
	"Range",
	"If-None-Match",
	"If-Modified-Since",
}

// forwardableResponseHeaders are the only response headers forwarded to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":        true,
	"Content-Length":      true,
	"Cache-Control":       true,
	"Etag":                true,
	"Last-Modified":       true,
	"Content-Range":       true,
	"Accept-Ranges":       true,
	"Content-Disposition": true,
}

// htmlContentType is the content type of every rewritten document.
const htmlContentType = "text/html; charset=utf-8"

// ForwardService forwards authenticated browsing requests to the backend.
type ForwardService struct {
	client  *client.BackendClient
	store   jarstore.Store
	backend *url.URL
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewForwardService creates a ForwardService. The metrics parameter is optional.
func NewForwardService(c *client.BackendClient, store jarstore.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ForwardService, error) {
	base, err := backendBase(cfg)
	if err != nil {
		return nil, err
	}

	return &ForwardService{
		client:  c,
		store:   store,
		backend: base,
		prefix:  cfg.Proxy.Prefix,
		logger:  logger.With("component", "forward_service"),
		metrics: m,
	}, nil
}

// Forward sends a GET for pr to the backend with the session's cookies and
// returns the response to relay. The caller is responsible for closing the
// response body.
//
// A session without stored cookies gets ErrUnauthenticated and the backend is
// not contacted. Cookies the backend sets or expires replace the stored jar
// as soon as the response headers arrive. HTML documents are decoded to UTF-8
// and come back with their links rewritten under the proxy prefix; any other
// body is relayed unchanged.
func (s *ForwardService) Forward(pr *model.ProxiedRequest) (*model.ProxiedResponse, error) {
	stored, ok := s.store.Get(pr.Ctx, pr.SessionID)
	if !ok {
		return nil, ErrUnauthenticated
	}

	target := s.buildBackendURL(pr.Path, pr.RawQuery)
	jar := client.NewJar(s.backend, stored)

	s.logger.Debug("forwarding request", "path", pr.Path)

	start := time.Now()
	resp, err := s.client.Do(pr.Ctx, http.MethodGet, target, s.filterRequestHeaders(pr.Header), nil, jar)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	elapsed := time.Since(start)

	if updated := jar.Snapshot(); !updated.Equal(stored) {
		s.store.Put(pr.Ctx, pr.SessionID, updated)
	}

	out := &model.ProxiedResponse{
		StatusCode: resp.StatusCode,
		Header:     s.filterResponseHeaders(resp.Header),
		Elapsed:    elapsed,
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		out.Mode = model.BodyPassthrough
		out.ContentType = contentType
		out.Header.Set("Content-Type", contentType)
		out.Body = resp.Body
		s.record(out.Mode)
		return out, nil
	}

	decoded, err := charset.NewReader(resp.Body, contentType)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: read document: %w", ErrNetworkFailure, err)
	}

	out.Mode = model.BodyRewrittenHTML
	out.ContentType = htmlContentType
	out.Header.Set("Content-Type", htmlContentType)
	out.Header.Del("Content-Length")
	out.Body = rewrite.NewReader(readCloser{decoded, resp.Body}, s.backend, s.prefix)
	s.record(out.Mode)
	return out, nil
}

// buildBackendURL joins the escaped relative path onto the backend base URL.
func (s *ForwardService) buildBackendURL(relPath, rawQuery string) string {
	relPath = strings.TrimLeft(relPath, "/")

	u := *s.backend
	if unescaped, err := url.PathUnescape(relPath); err == nil {
		u.Path = s.backend.Path + unescaped
		u.RawPath = s.backend.EscapedPath() + relPath
	} else {
		u.Path = s.backend.Path + relPath
		u.RawPath = ""
	}
	u.RawQuery = rawQuery
	return u.String()
}

func (s *ForwardService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

func (s *ForwardService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}

func (s *ForwardService) record(mode model.BodyMode) {
	if s.metrics != nil {
		s.metrics.ForwardedResponses.WithLabelValues(mode.String()).Inc()
	}
}

// isHTML reports whether a Content-Type value denotes an HTML document.
func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// readCloser reads from a decoding reader and closes the underlying body.
type readCloser struct {
	io.Reader
	io.Closer
}
