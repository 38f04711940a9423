package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPerIP_Allow(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	p := New(2)
	p.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := p.Allow("10.0.0.1"); !ok {
			t.Fatalf("request %d should pass the burst", i)
		}
	}
	ok, wait := p.Allow("10.0.0.1")
	if ok || wait <= 0 {
		t.Fatalf("third request should be throttled, ok=%v wait=%v", ok, wait)
	}
	if ok, _ := p.Allow("10.0.0.2"); !ok {
		t.Fatalf("other clients keep their own bucket")
	}

	now = now.Add(30 * time.Second)
	if ok, _ := p.Allow("10.0.0.1"); !ok {
		t.Fatalf("token should refill after 30s at 2/min")
	}
}

func TestPerIP_PrunesIdleClients(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	p := New(1)
	p.now = func() time.Time { return now }
	p.lastPrune = now
	p.Allow("10.0.0.1")

	now = now.Add(idleAfter + pruneInterval)
	p.Allow("10.0.0.2")
	if _, ok := p.clients["10.0.0.1"]; ok {
		t.Fatalf("expected idle client to be pruned")
	}
}

func TestMiddleware(t *testing.T) {
	p := New(1)
	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote, forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "http://example.test/auth/verify", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("192.0.2.1:1000", ""); rec.Code != http.StatusOK {
		t.Fatalf("first status=%d", rec.Code)
	}
	rec := do("192.0.2.1:2000", "203.0.113.9")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d, want 429 since proxy headers are untrusted", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestMiddleware_TrustedProxy(t *testing.T) {
	p := New(1, WithTrustedProxy())
	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for _, fwd := range []string{"203.0.113.1, 10.0.0.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "http://example.test/auth/verify", nil)
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("forwarded %q status=%d", fwd, rec.Code)
		}
	}
}
