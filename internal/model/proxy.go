// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"time"
)

// ProxiedRequest represents a client request to be forwarded to the backend.
type ProxiedRequest struct {
	Ctx       context.Context
	SessionID string
	Path      string // escaped path relative to the proxy prefix
	RawQuery  string
	Header    http.Header
}

// BodyMode selects how a backend response body reaches the client.
type BodyMode int

const (
	// BodyPassthrough relays the backend bytes unchanged.
	BodyPassthrough BodyMode = iota
	// BodyRewrittenHTML relays the document after link rewriting.
	BodyRewrittenHTML
)

// String returns the metrics label for the mode.
func (m BodyMode) String() string {
	if m == BodyRewrittenHTML {
		return "rewritten_html"
	}
	return "passthrough"
}

// ProxiedResponse represents the backend response to be streamed back.
type ProxiedResponse struct {
	StatusCode  int
	ContentType string
	Mode        BodyMode
	Header      http.Header
	Body        io.ReadCloser
	Elapsed     time.Duration
}
