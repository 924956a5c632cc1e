package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/docsage/docsage/internal/log"
)

const (
	// sweepEvery is how often stale client buckets are discarded.
	sweepEvery = 5 * time.Minute
	// staleAfter is how long a client may idle before its bucket goes.
	staleAfter = 10 * time.Minute
)

// client pairs a token bucket with the time it last made a request.
type client struct {
	bucket *rate.Limiter
	seen   time.Time
}

// rateLimiter hands each client IP its own token bucket. There is no
// background goroutine; expired buckets are swept opportunistically
// from allow.
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	refill    rate.Limit
	burst     int
	lastSweep time.Time
}

func newRateLimiter(refillPerSec float64, burst int) *rateLimiter {
	return &rateLimiter{
		clients:   make(map[string]*client),
		refill:    rate.Limit(refillPerSec),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow reports whether a request from ip may proceed, consuming one
// token if so. A first-time IP always proceeds: its bucket starts full.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweepLocked(now)

	c, ok := rl.clients[ip]
	if !ok {
		c = &client{bucket: rate.NewLimiter(rl.refill, rl.burst)}
		rl.clients[ip] = c
	}
	c.seen = now
	return c.bucket.Allow()
}

// sweepLocked drops buckets idle past staleAfter. Caller holds mu.
func (rl *rateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) <= sweepEvery {
		return
	}
	for ip, c := range rl.clients {
		if now.Sub(c.seen) > staleAfter {
			delete(rl.clients, ip)
		}
	}
	rl.lastSweep = now
}

// rateLimitMiddleware rejects requests from clients that have drained
// their bucket with 429 and a Retry-After hint.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP picks the address used as the limiter key. Proxy headers
// are consulted only when trustProxy is set, and only if they parse as
// real IPs; otherwise the peer address decides.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, header := range []string{"X-Real-IP", "X-Forwarded-For"} {
			if ip := forwardedIP(r.Header.Get(header)); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedIP validates a proxy header value, taking the first entry
// of a comma-separated list. Returns "" unless it parses as an IP, so
// arbitrary header strings cannot become limiter keys.
func forwardedIP(value string) string {
	if value == "" {
		return ""
	}
	first, _, _ := strings.Cut(value, ",")
	ip := net.ParseIP(strings.TrimSpace(first))
	if ip == nil {
		return ""
	}
	return ip.String()
}
