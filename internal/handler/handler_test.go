package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"credproxy/internal/client"
	"credproxy/internal/config"
	"credproxy/internal/jarstore"
	"credproxy/internal/middleware"
	"credproxy/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00, 0x01, 0xfe, 0xff}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{
			BaseURL:         backendURL,
			LoginPath:       "/api/auth/login",
			EmailField:      "email",
			PasswordField:   "password",
			LoginMode:       config.LoginModeJSON,
			UserAgent:       "credproxy/1.0",
			TimeoutSeconds:  5,
			IdleConnections: 10,
		},
		Session: config.SessionConfig{
			Secret:     testSecret,
			CookieName: "credproxy_session",
			Store:      config.StoreMemory,
		},
		Proxy: config.ProxyConfig{Prefix: "/proxy/"},
	}
}

// newBackend starts a fake backend accepting a@b.com / x.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if creds["email"] != "a@b.com" || creds["password"] != "x" {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("sid"); err != nil || ck.Value != "abc" {
			http.Error(w, "login required", http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/", "/page.html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, `<html><body><a href="/dir/file">file</a><img src="img.png"></body></html>`)
		case "/slow":
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		case "/img.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testStack struct {
	e     *echo.Echo
	store *jarstore.MemoryStore
}

// newStack wires the real services and handlers against backendURL. The
// extra /whoami route exposes the session ID to tests.
func newStack(t *testing.T, backendURL string) *testStack {
	t.Helper()
	return newStackWithConfig(t, testConfig(backendURL))
}

func newStackWithConfig(t *testing.T, cfg *config.Config) *testStack {
	t.Helper()
	logger := discardLogger()

	store := jarstore.NewMemoryStore(time.Hour, logger)
	t.Cleanup(func() { _ = store.Close() })

	bc := client.NewBackendClient(cfg, logger, nil)
	ls, err := service.NewLoginService(bc, store, cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewLoginService: %v", err)
	}
	fs, err := service.NewForwardService(bc, store, cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewForwardService: %v", err)
	}
	settings, err := NewSettings(cfg)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}

	e := echo.New()
	e.Use(middleware.Session(cfg.Session, logger))
	RegisterRoutes(e, settings,
		NewLoginHandler(ls, store, settings, logger),
		NewProxyHandler(fs, settings, logger),
		NewHealthHandler(settings, store, "test"),
	)
	e.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, middleware.SessionID(c))
	})

	return &testStack{e: e, store: store}
}

// do serves one request, sending cookie when non-nil.
func (s *testStack) do(method, target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

// session returns a session cookie and its ID.
func (s *testStack) session(t *testing.T) (*http.Cookie, string) {
	t.Helper()
	rec := s.do(http.MethodGet, "/whoami", nil, nil)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "credproxy_session" {
			return ck, rec.Body.String()
		}
	}
	t.Fatal("no session cookie issued")
	return nil, ""
}

// login signs the session in with the fake backend's valid credentials.
func (s *testStack) login(t *testing.T) (*http.Cookie, string) {
	t.Helper()
	ck, id := s.session(t)
	rec := s.do(http.MethodPost, "/", url.Values{"email": {"a@b.com"}, "password": {"x"}}, ck)
	if rec.Code != http.StatusFound {
		t.Fatalf("login status = %d, want %d (body %q)", rec.Code, http.StatusFound, rec.Body.String())
	}
	return ck, id
}
