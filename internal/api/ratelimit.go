// Fixed-window request limiter keyed by client IP, used on endpoints that
// serialize a whole grid per request.
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter allows up to maxRate requests per window for each client.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	maxRate int
	period  time.Duration
	now     func() time.Time
	done    chan struct{}
}

type window struct {
	used  int
	start time.Time
}

// NewRateLimiter creates a limiter allowing maxRate requests per period.
// Call Close to stop its cleanup goroutine.
func NewRateLimiter(maxRate int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string]*window),
		maxRate: maxRate,
		period:  period,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Close stops background cleanup.
func (rl *RateLimiter) Close() {
	select {
	case <-rl.done:
	default:
		close(rl.done)
	}
}

// Allow records a request from key and reports whether it is within limits.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.period {
		rl.windows[key] = &window{used: 1, start: now}
		return rl.maxRate > 0
	}
	if w.used < rl.maxRate {
		w.used++
		return true
	}
	return false
}

// RetryAfter returns whole seconds until key's window resets.
func (rl *RateLimiter) RetryAfter(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok {
		return 0
	}
	remaining := rl.period - rl.now().Sub(w.start)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

func (rl *RateLimiter) sweep() {
	t := time.NewTicker(rl.period * 2)
	defer t.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-t.C:
			rl.mu.Lock()
			now := rl.now()
			for k, w := range rl.windows {
				if now.Sub(w.start) > 2*rl.period {
					delete(rl.windows, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// clientIP returns the first X-Forwarded-For entry, or the remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware wraps a handler with rate limiting. Returns 429 if exceeded.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(ip)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
