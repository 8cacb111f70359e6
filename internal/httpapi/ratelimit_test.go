package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBucketSetRefillsAndEvicts(t *testing.T) {
	buckets := newBucketSet(60, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buckets.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, ok := buckets.take("c1"); !ok {
			t.Fatalf("burst request %d should pass", i+1)
		}
	}
	wait, ok := buckets.take("c1")
	if ok {
		t.Fatalf("third request should be limited")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("unexpected wait %s", wait)
	}
	if _, ok := buckets.take("c2"); !ok {
		t.Fatalf("keys must not share buckets")
	}

	now = now.Add(time.Second)
	if _, ok := buckets.take("c1"); !ok {
		t.Fatalf("one token should refill after a second")
	}

	now = now.Add(time.Minute)
	buckets.take("c3")
	if got := buckets.size(); got != 1 {
		t.Fatalf("idle buckets should be evicted, %d left", got)
	}
}

func TestRateLimiterKeysByClinic(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1000, IPBurst: 1000, ClinicPerMinute: 1, ClinicBurst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}
	if send("/api/clinics/c1/queue").Code != http.StatusOK {
		t.Fatalf("first request should pass")
	}
	limited := send("/api/clinics/c1/display")
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("second request for c1 should be limited, got %d", limited.Code)
	}
	if limited.Header().Get("Retry-After") == "" {
		t.Fatalf("limited response should carry Retry-After")
	}
	if send("/api/clinics/c2/queue").Code != http.StatusOK {
		t.Fatalf("other clinic should pass")
	}
	for i := 0; i < 3; i++ {
		if send("/healthz").Code != http.StatusOK {
			t.Fatalf("health checks are never limited")
		}
	}
}
