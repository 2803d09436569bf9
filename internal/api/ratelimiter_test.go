package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticLimiter struct {
	allow bool
}

func (s *staticLimiter) Allow(*http.Request) bool {
	return s.allow
}

func TestRateLimitMiddlewareBlocksWhenLimiterDenies(t *testing.T) {
	t.Parallel()

	middleware := rateLimitMiddleware(&staticLimiter{allow: false}, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatalf("handler should not execute when rate limited")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	middleware.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimitMiddlewarePassesWhenLimiterAllows(t *testing.T) {
	t.Parallel()

	var called bool
	middleware := rateLimitMiddleware(&staticLimiter{allow: true}, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	middleware.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to execute when limiter allows")
	}
}

func TestNewTokenBucketLimiterUsesDefaults(t *testing.T) {
	t.Parallel()

	limiter := newTokenBucketLimiter(0, 0)
	if limiter == nil {
		t.Fatalf("expected limiter instance")
	}
	if !limiter.Allow(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Fatalf("expected first request to be allowed")
	}
}

func TestTokenBucketLimiterIsPerClient(t *testing.T) {
	t.Parallel()

	limiter := newTokenBucketLimiter(1, 1)

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"

	if !limiter.Allow(first) {
		t.Fatalf("expected first request from client to pass")
	}
	first.RemoteAddr = "10.0.0.1:5678"
	if limiter.Allow(first) {
		t.Fatalf("expected second request from same client to be limited")
	}
	if !limiter.Allow(other) {
		t.Fatalf("expected another client to have its own bucket")
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4321"
	if got := clientIP(req); got != "192.0.2.7" {
		t.Fatalf("expected host part, got %q", got)
	}

	req.RemoteAddr = "pipe"
	if got := clientIP(req); got != "pipe" {
		t.Fatalf("expected raw address fallback, got %q", got)
	}
}
