package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/searchktools/wirehttp/core/http"
)

// RateLimitBody is sent with 429 responses
const RateLimitBody = "Rate limit exceeded. Try again later."

// RateLimiter is a per-client sliding window limiter
type RateLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	buckets   map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time

	retryAfter string
}

// RateLimitOption configures a RateLimiter
type RateLimitOption func(*RateLimiter)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) RateLimitOption {
	return func(l *RateLimiter) {
		l.now = now
	}
}

// NewRateLimiter allows at most limit requests per client within window
func NewRateLimiter(limit int, window time.Duration, opts ...RateLimitOption) *RateLimiter {
	l := &RateLimiter{
		max:     limit,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()

	secs := int64((window + time.Second - 1) / time.Second)
	l.retryAfter = strconv.FormatInt(max(secs, 1), 10)
	return l
}

// Allow records a request for key and reports whether it is admitted
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.window {
		l.sweep(now)
	}

	stamps := evict(l.buckets[key], now, l.window)
	if len(stamps) >= l.max {
		l.buckets[key] = stamps
		return false
	}
	l.buckets[key] = append(stamps, now)
	return true
}

// Clients returns the number of tracked client keys
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops clients with no request inside the window
func (l *RateLimiter) sweep(now time.Time) {
	for key, stamps := range l.buckets {
		if kept := evict(stamps, now, l.window); len(kept) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = kept
		}
	}
	l.lastSweep = now
}

// evict removes timestamps older than window; stamps are ascending
func evict(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) > window {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

func (l *RateLimiter) Before(x *Exchange) {
	if l.Allow(x.Request.ClientKey()) {
		return
	}
	resp := http.Text(http.StatusTooManyRequests, RateLimitBody).
		SetHeader(http.HeaderRetryAfter, l.retryAfter)
	resp.KeepAlive = x.Request.WantsKeepAlive()
	x.Abort(resp)
}

func (l *RateLimiter) After(*Exchange) {}
