package internal

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	limiter := newRateLimiter(1, 1, 10, time.Minute)

	if !limiter.allow("client") {
		t.Fatalf("expected first request to be allowed")
	}
	if limiter.allow("client") {
		t.Fatalf("expected second request to be rate limited")
	}
	if !limiter.allow("other") {
		t.Fatalf("expected a different client to be allowed")
	}

	time.Sleep(1100 * time.Millisecond)

	if !limiter.allow("client") {
		t.Fatalf("expected request after refill to be allowed")
	}
}

// TestRateLimitHandler tests that the middleware answers 429 once the burst is spent.
func TestRateLimitHandler(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRateLimitHandler(next, 1, 1, 10, time.Minute)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhook/gitlab/1", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Real-Ip", "198.51.100.2")
	if got := clientIP(req); got != "198.51.100.2" {
		t.Fatalf("expected real ip header, got %q", got)
	}
}

// TestRateLimiterConcurrentFirstRequests tests that concurrent first requests from one client share a single bucket.
func TestRateLimiterConcurrentFirstRequests(t *testing.T) {
	limiter := newRateLimiter(1, 5, 10, time.Minute)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.allow("client") {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := allowed.Load(); got != 5 {
		t.Fatalf("expected exactly the burst of 5 to be allowed, got %d", got)
	}
	if limiter.limiters.Len() != 1 {
		t.Fatalf("expected one limiter for the client, got %d", limiter.limiters.Len())
	}
}
