package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const clientLimiterIdleTTL = 10 * time.Minute

type rateLimiter interface {
	Allow(r *http.Request) bool
}

// clientLimiter keeps one token bucket per client IP. Buckets for clients that
// stay idle longer than clientLimiterIdleTTL are evicted.
type clientLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets *gocache.Cache
}

func newTokenBucketLimiter(ratePerSecond float64, burst int) rateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}

	return &clientLimiter{
		rps:     rate.Limit(ratePerSecond),
		burst:   burst,
		buckets: gocache.New(clientLimiterIdleTTL, time.Minute),
	}
}

func (l *clientLimiter) Allow(r *http.Request) bool {
	if l == nil || l.buckets == nil {
		return true
	}
	return l.bucket(clientIP(r)).Allow()
}

func (l *clientLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		limiter := v.(*rate.Limiter)
		l.buckets.SetDefault(key, limiter)
		return limiter
	}
	limiter := rate.NewLimiter(l.rps, l.burst)
	l.buckets.SetDefault(key, limiter)
	return limiter
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter.Allow(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "Too many requests", "rate limit exceeded, please retry shortly")
	})
}
