package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"credproxy/internal/client"
	"credproxy/internal/config"
	"credproxy/internal/jarstore"
	"credproxy/internal/metrics"
)

// LoginService relays a client's credentials to the backend login endpoint
// and keeps the resulting session cookies for that client.
type LoginService struct {
	client   *client.BackendClient
	store    jarstore.Store
	cfg      config.BackendConfig
	backend  *url.URL
	loginURL string
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewLoginService creates a LoginService. The metrics parameter is optional.
func NewLoginService(c *client.BackendClient, store jarstore.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*LoginService, error) {
	base, err := backendBase(cfg)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(cfg.Backend.LoginPath)
	if err != nil {
		return nil, fmt.Errorf("parse backend login_path: %w", err)
	}
	if !ref.IsAbs() && ref.Host == "" {
		// The login path is appended to the base URL's path.
		ref.Path = strings.TrimLeft(ref.Path, "/")
		ref.RawPath = strings.TrimLeft(ref.RawPath, "/")
	}

	return &LoginService{
		client:   c,
		store:    store,
		cfg:      cfg.Backend,
		backend:  base,
		loginURL: base.ResolveReference(ref).String(),
		timeout:  time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		logger:   logger.With("component", "login_service"),
		metrics:  m,
	}, nil
}

// Login posts email and password to the backend with an empty cookie jar.
// On success the cookies collected during the exchange, redirects included,
// replace the session's stored jar.
//
// The login succeeds only when the final response is 2xx, sets at least one
// cookie and leaves the jar non-empty. Otherwise ErrAuthFailure is returned.
// Transport faults and timeouts return ErrNetworkFailure. The store is left
// untouched on any failure.
func (s *LoginService) Login(ctx context.Context, sessionID, email, password string) error {
	body, contentType, err := s.payload(email, password)
	if err != nil {
		return fmt.Errorf("encode login payload: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	jar := client.NewJar(s.backend, nil)
	header := http.Header{
		"Content-Type": {contentType},
		"Accept":       {"application/json, text/html;q=0.9, */*;q=0.8"},
	}

	resp, err := s.client.Do(ctx, http.MethodPost, s.loginURL, header, bytes.NewReader(body), jar)
	if err != nil {
		s.record(metrics.LoginNetworkFailure)
		return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	defer drain(resp.Body)

	cookies := jar.Snapshot()
	setsCookie := len(resp.Header.Values("Set-Cookie")) > 0
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !setsCookie || len(cookies) == 0 {
		s.record(metrics.LoginAuthFailure)
		s.logger.Info("login rejected",
			"status", resp.StatusCode,
			"sets_cookie", setsCookie,
			"cookies", len(cookies),
		)
		return fmt.Errorf("%w: backend answered %d", ErrAuthFailure, resp.StatusCode)
	}

	s.store.Put(ctx, sessionID, cookies)
	s.record(metrics.LoginSuccess)
	s.logger.Info("login succeeded", "cookies", len(cookies))
	return nil
}

// payload encodes the credentials the way the backend expects them.
func (s *LoginService) payload(email, password string) ([]byte, string, error) {
	if s.cfg.LoginMode == config.LoginModeForm {
		form := url.Values{
			s.cfg.EmailField:    {email},
			s.cfg.PasswordField: {password},
		}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	data, err := json.Marshal(map[string]string{
		s.cfg.EmailField:    email,
		s.cfg.PasswordField: password,
	})
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func (s *LoginService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.Logins.WithLabelValues(outcome).Inc()
	}
}
