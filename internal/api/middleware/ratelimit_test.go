package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInMemoryRateLimiter_AllowsUpToBurst(t *testing.T) {
	rl := NewInMemoryRateLimiter(10, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("call %d: expected allowed within burst", i)
		}
	}

	if rl.Allow() {
		t.Fatal("4th call beyond burst: expected blocked")
	}
}

func TestRateLimitMiddleware_RequestAllowed(t *testing.T) {
	rl := NewInMemoryRateLimiter(100, 10)
	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(next)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !nextCalled {
		t.Error("expected next handler to be called when rate limit not exceeded")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_RequestBlocked(t *testing.T) {
	rl := NewInMemoryRateLimiter(1, 1)
	logger := slog.New(slog.DiscardHandler)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(next)

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec1.Code != http.StatusOK {
		t.Fatalf("first request should succeed, got status %d", rec1.Code)
	}

	nextCalled = false

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/status", nil))

	if nextCalled {
		t.Error("expected next handler NOT to be called once the burst is exhausted")
	}

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec2.Code)
	}
}
