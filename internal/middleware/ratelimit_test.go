package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// ---------------------------------------------------------------------------
// Allow
// ---------------------------------------------------------------------------

func TestRateLimiter_AllowsBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst was denied", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst was allowed")
	}
}

func TestRateLimiter_PerIPBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request from first IP denied")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("second request from first IP allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("exhausting one IP's bucket throttled another IP")
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestRateLimiter_MiddlewareReturns429(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/v1/magiclink", nil)
	req.RemoteAddr = "10.0.0.9:12345"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestRateLimiter_SpoofedForwardedForCannotEvade(t *testing.T) {
	// Without TRUST_PROXY the bucket is keyed on the socket address, so a
	// client cycling X-Forwarded-For values never gets a fresh bucket.
	rl := NewRateLimiter(0.001, 1)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/v1/magiclink", nil)
	req.RemoteAddr = "10.0.0.9:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	for _, spoofed := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/magiclink", nil)
		req.RemoteAddr = "10.0.0.9:12345"
		req.Header.Set("X-Forwarded-For", spoofed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("X-Forwarded-For %s: expected 429, got %d", spoofed, rec.Code)
		}
	}
}

func TestExtractIP_StripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.50:54321"

	if ip := extractIP(req); ip != "192.168.1.50" {
		t.Errorf("expected '192.168.1.50', got %q", ip)
	}
}

func TestExtractIP_IgnoresProxyHeadersByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.50:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Real-IP", "5.6.7.8")

	if ip := extractIP(req); ip != "192.168.1.50" {
		t.Errorf("spoofable header was trusted without TRUST_PROXY: got %q", ip)
	}
}

func TestExtractIP_HonorsProxyHeadersWhenTrusted(t *testing.T) {
	t.Setenv("TRUST_PROXY", "true")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.50:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")

	if ip := extractIP(req); ip != "1.2.3.4" {
		t.Errorf("expected first forwarded hop behind a trusted proxy, got %q", ip)
	}
}
