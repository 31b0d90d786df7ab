package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"credproxy/internal/client"
	"credproxy/internal/config"
	"credproxy/internal/jarstore"
	"credproxy/internal/metrics"
	"credproxy/internal/model"
)

func newLoginService(t *testing.T, cfg *config.Config, store jarstore.Store, m *metrics.Metrics) *LoginService {
	t.Helper()
	bc := client.NewBackendClient(cfg, discardLogger(), nil)
	svc, err := NewLoginService(bc, store, cfg, discardLogger(), m)
	if err != nil {
		t.Fatalf("NewLoginService: %v", err)
	}
	return svc
}

func TestLogin_JSONSuccess(t *testing.T) {
	var gotBody map[string]string
	var gotContentType, gotCookie, gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotCookie = r.Header.Get("Cookie")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	store := newCountingStore(t)
	// A stale jar must neither be sent nor merged.
	store.MemoryStore.Put(context.Background(), "s1", model.Jar{"stale": "1"})
	svc := newLoginService(t, testConfig(backend.URL), store, nil)

	if err := svc.Login(context.Background(), "s1", "a@b.c", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if gotPath != "/api/auth/login" {
		t.Errorf("path = %q, want %q", gotPath, "/api/auth/login")
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", gotContentType, "application/json")
	}
	if gotCookie != "" {
		t.Errorf("Cookie = %q, want none (fresh jar)", gotCookie)
	}
	if diff := cmp.Diff(map[string]string{"email": "a@b.c", "password": "pw"}, gotBody); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	got, ok := store.Get(context.Background(), "s1")
	if !ok {
		t.Fatal("store has no jar after successful login")
	}
	if diff := cmp.Diff(model.Jar{"sid": "abc"}, got); diff != "" {
		t.Errorf("stored jar mismatch (-want +got):\n%s", diff)
	}
}

func TestLogin_FormMode(t *testing.T) {
	var gotContentType, gotUser, gotPass string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = r.ParseForm()
		gotUser = r.PostForm.Get("username")
		gotPass = r.PostForm.Get("passwd")
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
	}))
	defer backend.Close()

	cfg := testConfig(backend.URL)
	cfg.Backend.LoginMode = config.LoginModeForm
	cfg.Backend.EmailField = "username"
	cfg.Backend.PasswordField = "passwd"

	svc := newLoginService(t, cfg, newCountingStore(t), nil)
	if err := svc.Login(context.Background(), "s1", "a@b.c", "p&w=d"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q, want form encoding", gotContentType)
	}
	if gotUser != "a@b.c" || gotPass != "p&w=d" {
		t.Errorf("form = %q/%q, want %q/%q", gotUser, gotPass, "a@b.c", "p&w=d")
	}
}

func TestLogin_LoginPathUnderBasePath(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
	}))
	defer backend.Close()

	svc := newLoginService(t, testConfig(backend.URL+"/app"), newCountingStore(t), nil)
	if err := svc.Login(context.Background(), "s1", "a@b.c", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if gotPath != "/app/api/auth/login" {
		t.Errorf("path = %q, want %q", gotPath, "/app/api/auth/login")
	}
}

func TestLogin_AccumulatesRedirectCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "pre", Value: "1", Path: "/"})
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()

	store := newCountingStore(t)
	svc := newLoginService(t, testConfig(backend.URL), store, nil)
	if err := svc.Login(context.Background(), "s1", "a@b.c", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	got, _ := store.Get(context.Background(), "s1")
	if diff := cmp.Diff(model.Jar{"pre": "1", "sid": "abc"}, got); diff != "" {
		t.Errorf("stored jar mismatch (-want +got):\n%s", diff)
	}
}

func TestLogin_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "401 with cookie",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "200 without cookie",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
		},
		{
			name: "cookie only on redirect hop",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/auth/login" {
					http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
					http.Redirect(w, r, "/home", http.StatusFound)
					return
				}
				w.WriteHeader(http.StatusOK)
			},
		},
		{
			name: "cookie cleared",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.SetCookie(w, &http.Cookie{Name: "sid", Value: "", MaxAge: -1})
			},
		},
		{
			name: "500 with cookie",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := httptest.NewServer(tt.handler)
			defer backend.Close()

			store := newCountingStore(t)
			store.MemoryStore.Put(context.Background(), "s1", model.Jar{"prev": "1"})
			m := metrics.New()
			svc := newLoginService(t, testConfig(backend.URL), store, m)

			err := svc.Login(context.Background(), "s1", "a@b.c", "wrong")
			if !errors.Is(err, ErrAuthFailure) {
				t.Fatalf("Login() error = %v, want ErrAuthFailure", err)
			}
			if n := store.puts.Load(); n != 0 {
				t.Errorf("store written %d times, want 0", n)
			}
			got, _ := store.Get(context.Background(), "s1")
			if !got.Equal(model.Jar{"prev": "1"}) {
				t.Errorf("stored jar = %v, want previous jar kept", got)
			}
			if v := loginCount(t, m, metrics.LoginAuthFailure); v != 1 {
				t.Errorf("auth_failure logins = %v, want 1", v)
			}
		})
	}
}

func TestLogin_NetworkFailure(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	base := backend.URL
	backend.Close()

	store := newCountingStore(t)
	m := metrics.New()
	svc := newLoginService(t, testConfig(base), store, m)

	err := svc.Login(context.Background(), "s1", "a@b.c", "pw")
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("Login() error = %v, want ErrNetworkFailure", err)
	}
	if errors.Is(err, ErrAuthFailure) {
		t.Error("network failure must not be reported as auth failure")
	}
	if _, ok := store.Get(context.Background(), "s1"); ok {
		t.Error("store has a jar after failed login")
	}
	if v := loginCount(t, m, metrics.LoginNetworkFailure); v != 1 {
		t.Errorf("network_failure logins = %v, want 1", v)
	}
}

func loginCount(t *testing.T, m *metrics.Metrics, outcome string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "credproxy_logins_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
