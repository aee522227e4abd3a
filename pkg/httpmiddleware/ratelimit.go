package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	// Max is the bucket size: the burst a client may send at once. The
	// bucket refills at Max tokens per Window.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// Limiter is a keyed token bucket limiter.
type Limiter struct {
	max    float64
	window time.Duration
	rate   float64 // tokens per second

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter creates a Limiter allowing n requests per window per key.
func NewLimiter(n int, window time.Duration) *Limiter {
	if n < 1 {
		n = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		max:     float64(n),
		window:  window,
		rate:    float64(n) / window.Seconds(),
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from key's bucket. When the bucket is empty it
// reports how long until the next token is available.
func (l *Limiter) Allow(key string, now time.Time) (remaining int, retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: l.max, seen: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.seen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.max, b.tokens+elapsed*l.rate)
	}
	b.seen = now

	if b.tokens < 1 {
		wait := (1 - b.tokens) / l.rate
		return 0, time.Duration(wait * float64(time.Second)), false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// Sweep forgets buckets idle for a full window; they would be full again.
func (l *Limiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.window {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// RateLimit rejects clients exceeding cfg with 429 and a Retry-After header.
// Idle buckets are swept once per window until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg.Max, cfg.Window)
	go l.sweepEvery(ctx, l.window)
	return limit(l, cfg.KeyFunc)
}

func limit(l *Limiter, keyFunc func(*http.Request) string) Middleware {
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	limitHeader := strconv.Itoa(int(l.max))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retryAfter, ok := l.Allow(keyFunc(r), time.Now())

			w.Header().Set("X-RateLimit-Limit", limitHeader)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the
// remote address host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
