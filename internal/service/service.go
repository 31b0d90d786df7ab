// Package service implements the login relay and request forwarding logic.
package service

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"credproxy/internal/config"
)

var (
	// ErrUnauthenticated is returned when the session holds no backend cookies.
	ErrUnauthenticated = errors.New("session has no backend cookies")
	// ErrAuthFailure is returned when the backend rejects a login.
	ErrAuthFailure = errors.New("backend rejected the credentials")
	// ErrNetworkFailure is returned when the backend cannot be reached or
	// does not answer in time. The underlying cause is wrapped alongside.
	ErrNetworkFailure = errors.New("backend unreachable")
)

// drainLimit caps how much of an unused response body is read so the
// connection can be reused.
const drainLimit = 64 << 10

// backendBase returns the backend base URL with a trailing slash on its path
// so relative references resolve beneath it.
func backendBase(cfg *config.Config) (*url.URL, error) {
	u, err := cfg.Backend.URL()
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		if u.RawPath != "" {
			u.RawPath += "/"
		}
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, drainLimit))
	_ = rc.Close()
}
