// Package ratelimit implements per-source-address token-bucket rate
// limiting for the HTTP surface.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per key (typically the caller's
// source address). Stale buckets are swept periodically so the map
// does not grow without bound.
type Limiter struct {
	requestsPerWindow int
	window            time.Duration

	mu       sync.RWMutex
	limiters map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a Limiter allowing requestsPerWindow requests per window
// per key, with a burst equal to requestsPerWindow.
func New(requestsPerWindow int, window time.Duration) *Limiter {
	return &Limiter{
		requestsPerWindow: requestsPerWindow,
		window:            window,
		limiters:          make(map[string]*entry),
	}
}

// Allow reports whether a request keyed by key is within the limit,
// consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.RLock()
	e, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		l.mu.Lock()
		e.lastSeen = time.Now()
		l.mu.Unlock()
		return e.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.limiters[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}

	perSecond := rate.Limit(float64(l.requestsPerWindow) / l.window.Seconds())
	lim := rate.NewLimiter(perSecond, l.requestsPerWindow)
	l.limiters[key] = &entry{limiter: lim, lastSeen: time.Now()}
	return lim
}

// Cleanup removes buckets idle for longer than maxIdle. Call
// periodically from a background goroutine.
func (l *Limiter) Cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > maxIdle {
			delete(l.limiters, key)
		}
	}
}

// StartCleanup runs Cleanup on interval until stop is closed.
func (l *Limiter) StartCleanup(interval, maxIdle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup(maxIdle)
			case <-stop:
				return
			}
		}
	}()
}

// Middleware returns an http.Handler that rejects requests exceeding
// the per-source-address limit with 429 and a Retry-After header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !l.Allow(key) {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","code":"RATE_LIMITED"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	return SourceKey(r)
}

// SourceKey derives the per-source-address key used for both HTTP
// rate limiting and the concurrent-SSE-stream cap: the request's
// remote address with the port stripped.
func SourceKey(r *http.Request) string {
	host := r.RemoteAddr
	if idx := lastColon(host); idx >= 0 {
		host = host[:idx]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
