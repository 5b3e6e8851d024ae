package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func TestFixedWindow(t *testing.T) {
	clock := &manualClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	window := newFixedWindow(2, time.Minute)
	window.now = clock.now

	for i := 0; i < 2; i++ {
		if ok, _ := window.allow("a"); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}
	clock.t = clock.t.Add(20 * time.Second)
	ok, retry := window.allow("a")
	if ok || retry != 40*time.Second {
		t.Fatalf("third request = %v, retry %s; want rejected with 40s left", ok, retry)
	}
	if ok, _ := window.allow("b"); !ok {
		t.Fatalf("other key shares the window")
	}

	clock.t = clock.t.Add(time.Minute)
	if ok, _ := window.allow("a"); !ok {
		t.Fatalf("request rejected after the window reset")
	}
	if _, kept := window.buckets["b"]; kept {
		t.Fatalf("expired bucket was not evicted")
	}
	if len(window.buckets) != 1 {
		t.Fatalf("buckets = %d, want 1", len(window.buckets))
	}
}

func TestRateLimitResponse(t *testing.T) {
	clock := &manualClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	window := newFixedWindow(1, time.Minute)
	window.now = clock.now
	handler := rateLimited(window, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("198.51.100.10:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := send("198.51.100.10:5678")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 for the same host on another port", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "61" {
		t.Fatalf("Retry-After = %q, want 61", got)
	}
	if rec.Header().Get("Content-Type") != "application/json" || rec.Body.String() != `{"error":{"code":"rate_limited","message":"too many requests"}}` {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if rec := send("[2001:db8::1]:443"); rec.Code != http.StatusOK {
		t.Fatalf("ipv6 client limited: %d", rec.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(0, time.Minute)(next)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"198.51.100.10:1234": "198.51.100.10",
		"[2001:db8::2]:443":  "2001:db8::2",
		"203.0.113.1":        "203.0.113.1",
	}
	for remote, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if got := clientIP(req); got != want {
			t.Fatalf("clientIP(%q) = %q, want %q", remote, got, want)
		}
	}
}
