package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestAllowWithinBurst(t *testing.T) {
	l := New(10, 5)
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("expected allow on request %d within burst", i+1)
		}
	}
}

func TestBlockWhenDepleted(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	l := newLimiter(10, 2, c.now)
	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("expected rate limit after burst exhausted")
	}
}

func TestRefillOverTime(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	l := newLimiter(2, 1, c.now)
	l.Allow()
	if l.Allow() {
		t.Fatal("expected block before refill")
	}
	c.t = c.t.Add(500 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("expected allow after refill")
	}
}

func TestDefaultBurst(t *testing.T) {
	l := New(3, 0)
	if l.burst != 3 {
		t.Fatalf("burst = %v, want 3", l.burst)
	}
}

func TestStoreCreatesPerKeyLimiters(t *testing.T) {
	s := NewStore(100, 10)
	for i := 0; i < 10; i++ {
		if !s.Allow("10.0.0.1") {
			t.Fatalf("expected allow on 10.0.0.1 request %d", i+1)
		}
	}
	if !s.Allow("10.0.0.2") {
		t.Fatal("expected allow on 10.0.0.2 (fresh limiter)")
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestStorePrune(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	s := NewStore(1, 1)
	s.now = c.now
	s.Allow("old")
	c.t = c.t.Add(10 * time.Minute)
	s.Allow("new")

	if n := s.Prune(5 * time.Minute); n != 1 {
		t.Fatalf("Prune removed %d, want 1", n)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestMiddleware(t *testing.T) {
	s := NewStore(0.001, 1)
	h := Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/functions/v1/format-article", nil)
	req.RemoteAddr = "203.0.113.7:51234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	other := httptest.NewRequest(http.MethodPost, "/functions/v1/format-article", nil)
	other.RemoteAddr = "198.51.100.1:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other client status = %d", rec.Code)
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	if got := ClientKey(r); got != "203.0.113.7" {
		t.Errorf("ClientKey = %q", got)
	}
	r.RemoteAddr = "203.0.113.7"
	if got := ClientKey(r); got != "203.0.113.7" {
		t.Errorf("ClientKey without port = %q", got)
	}
}
