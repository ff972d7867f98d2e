package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

func TestIsAllowedOrigin(t *testing.T) {
	allowed := []string{
		"http://localhost:3000",
		"http://localhost",
		"http://127.0.0.1:8788",
		"https://localhost:8443",
		"http://[::1]:3000",
	}
	for _, origin := range allowed {
		if !isAllowedOrigin(origin) {
			t.Errorf("isAllowedOrigin(%q) = false, want true", origin)
		}
	}

	denied := []string{
		"",
		"https://evil.com",
		"http://192.168.1.1:3000",
		"ftp://localhost:3000",
		"http://localhost:not-a-port",
		"http://localhost:70000",
		"http://localhost:3000/path",
		"http://localhost.evil.com",
		"http://user@localhost:3000",
	}
	for _, origin := range denied {
		if isAllowedOrigin(origin) {
			t.Errorf("isAllowedOrigin(%q) = true, want false", origin)
		}
	}
}

func TestIsLoopbackRemoteAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:12345", true},
		{"[::1]:12345", true},
		{"127.0.0.1", true},
		{"8.8.8.8:12345", false},
		{"192.168.1.1:8080", false},
		{"not-an-ip:1234", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isLoopbackRemoteAddr(tt.addr); got != tt.want {
			t.Errorf("isLoopbackRemoteAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowlist_AllowedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()

	CORSAllowlist()(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
	if got := rr.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "Content-Range") {
		t.Errorf("expose headers = %q, want Content-Range", got)
	}
}

func TestCORSAllowlist_DeniedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.com")
	rr := httptest.NewRecorder()

	CORSAllowlist()(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestCORSAllowlist_Preflight(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   int
	}{
		{"allowed", "http://127.0.0.1:5173", http.StatusNoContent},
		{"denied", "https://evil.com", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			req := httptest.NewRequest(http.MethodOptions, "/renders", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rr := httptest.NewRecorder()

			CORSAllowlist()(next).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if called {
				t.Error("preflight should not reach the handler")
			}
			if tt.want == http.StatusNoContent && !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Range") {
				t.Errorf("allow headers = %q", rr.Header().Get("Access-Control-Allow-Headers"))
			}
		})
	}
}

func TestCORSAllowlist_NoOrigin(t *testing.T) {
	rr := httptest.NewRecorder()
	CORSAllowlist()(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Header().Get("Vary") != "" || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("CORS headers set without Origin: %v", rr.Header())
	}
}

func TestLoopbackGuard(t *testing.T) {
	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:40000", http.StatusOK},
		{"[::1]:40000", http.StatusOK},
		{"10.0.0.7:40000", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/renders/x/file", nil)
		req.RemoteAddr = tt.remote
		rr := httptest.NewRecorder()

		LoopbackGuard(logging.Discard())(okHandler()).ServeHTTP(rr, req)

		if rr.Code != tt.want {
			t.Errorf("remote %s: status = %d, want %d", tt.remote, rr.Code, tt.want)
		}
	}
}

type fakeConfig map[string]string

func (f fakeConfig) GetConfig(ctx context.Context, key string) (string, error) {
	if v, ok := f[key]; ok {
		return v, nil
	}
	return "", nil
}

type failingConfig struct{}

func (failingConfig) GetConfig(ctx context.Context, key string) (string, error) {
	return "", errors.New("database is locked")
}

func TestAuthMiddleware(t *testing.T) {
	store := fakeConfig{AuthTokenKey: testToken}
	tests := []struct {
		name   string
		store  ConfigStore
		header string
		want   int
	}{
		{"valid token", store, "Bearer " + testToken, http.StatusOK},
		{"missing header", store, "", http.StatusUnauthorized},
		{"wrong scheme", store, "Basic " + testToken, http.StatusUnauthorized},
		{"wrong token", store, "Bearer nope", http.StatusUnauthorized},
		{"no token configured", fakeConfig{}, "Bearer " + testToken, http.StatusInternalServerError},
		{"store error", failingConfig{}, "Bearer " + testToken, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			AuthMiddleware(tt.store, logging.Discard())(okHandler()).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	})
	rr := httptest.NewRecorder()

	RequestIDMiddleware()(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 8 {
		t.Fatalf("request id = %q, want 8 chars", seen)
	}
	if got := rr.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("X-Request-ID = %q, want %q", got, seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	rr := httptest.NewRecorder()

	RecoveryMiddleware(logging.Discard())(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}
