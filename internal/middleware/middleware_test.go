package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/farstore/registry-sync/pkg/logger"
)

type staticKeys map[string]string

func (k staticKeys) Resolve(key string) (string, bool) {
	d, ok := k[key]
	return d, ok
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth(staticKeys{"good": "a.example"}, logger.Discard())

	var gotDomain string
	handler := auth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDomain = APIDomain(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
		domain string
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "malformed", header: "good", status: http.StatusUnauthorized},
		{name: "unknown", header: "Bearer bad", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer good", status: http.StatusOK, domain: "a.example"},
		{name: "lowercase scheme", header: "bearer good", status: http.StatusOK, domain: "a.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotDomain = ""
			req := httptest.NewRequest(http.MethodGet, "/private/notification_target", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if gotDomain != tt.domain {
				t.Fatalf("domain = %q, want %q", gotDomain, tt.domain)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.Discard())
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/apps", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK || statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected statuses %v", statuses)
	}

	// A different client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/apps", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client status = %d", rec.Code)
	}
}

func TestRateLimiterKeysByDomain(t *testing.T) {
	rl := NewRateLimiter(1, 1, logger.Discard())
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/private/notification_target", nil)
		req.RemoteAddr = addr
		req = req.WithContext(WithAPIDomain(req.Context(), "a.example"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected shared domain budget, got %d", rec.Code)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, logger.Discard())
	rl.getLimiter("old", time.Now().Add(-time.Hour))
	rl.getLimiter("new", time.Now())

	if removed := rl.Cleanup(time.Minute); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestCORSReflectsOrigin(t *testing.T) {
	handler := NewCORSMiddleware(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/apps", nil)
	req.Header.Set("Origin", "https://client.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://client.example" {
		t.Fatalf("allow origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials not allowed")
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	m := NewCORSMiddleware([]string{"example.com"})
	if !m.isOriginAllowed("https://app.example.com") {
		t.Fatal("subdomain should be allowed")
	}
	if m.isOriginAllowed("https://badexample.com") {
		t.Fatal("suffix without dot must not match")
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	handler := NewRequestLogger(logger.Discard()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc" {
		t.Fatal("request id not propagated")
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff")
	}
}
