package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type RateLimitConfig struct {
	IPPerMinute     int
	IPBurst         int
	ClinicPerMinute int
	ClinicBurst     int
}

// RateLimiter keeps a token bucket per caller IP and per clinic. Health
// probes and realtime transports are never limited.
type RateLimiter struct {
	scopes []limitScope
}

type limitScope struct {
	name    string
	key     func(*http.Request) string
	buckets *bucketSet
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{scopes: []limitScope{
		{name: "ip", key: clientIP, buckets: newBucketSet(cfg.IPPerMinute, cfg.IPBurst)},
		{name: "clinic", key: clinicIDFromRequest, buckets: newBucketSet(cfg.ClinicPerMinute, cfg.ClinicBurst)},
	}}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unlimitedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		for _, scope := range l.scopes {
			key := scope.key(r)
			if key == "" {
				continue
			}
			if wait, ok := scope.buckets.take(key); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests for this "+scope.name)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func unlimitedPath(path string) bool {
	return path == "/healthz" || path == "/ws" || strings.HasPrefix(path, "/realtime/")
}

// bucketSet refills every bucket at perMinute and caps it at burst. Buckets
// idle long enough to be full again are dropped on the next sweep.
type bucketSet struct {
	mu        sync.Mutex
	perSecond float64
	burst     float64
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func newBucketSet(perMinute, burst int) *bucketSet {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &bucketSet{
		perSecond: float64(perMinute) / 60,
		burst:     float64(burst),
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

// take spends one token for key. When the bucket is empty it reports how
// long until the next token.
func (s *bucketSet) take(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: s.burst, seen: now}
		s.buckets[key] = b
	}
	b.tokens = min(s.burst, b.tokens+now.Sub(b.seen).Seconds()*s.perSecond)
	b.seen = now
	if b.tokens < 1 {
		return time.Duration((1 - b.tokens) / s.perSecond * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

func (s *bucketSet) sweep(now time.Time) {
	refill := time.Duration(s.burst / s.perSecond * float64(time.Second))
	if now.Sub(s.lastSweep) < refill {
		return
	}
	s.lastSweep = now
	for key, b := range s.buckets {
		if now.Sub(b.seen) >= refill {
			delete(s.buckets, key)
		}
	}
}

func (s *bucketSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
