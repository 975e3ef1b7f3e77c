package server

import (
	"container/list"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/borrowchecker/borrowchecker/internal/logging"
)

// CORSMiddleware lets the configured origins call the command API from
// another page. Without origins it is a no-op.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(origins) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if value, ok := allowedOrigin(origins, r.Header.Get("Origin")); ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", value)
				if value != "*" {
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin:
// "*" when a wildcard is configured, otherwise the origin itself.
func allowedOrigin(origins []string, origin string) (string, bool) {
	if origin == "" {
		return "", false
	}
	for _, o := range origins {
		if o == "*" {
			return "*", true
		}
	}
	for _, o := range origins {
		if o == origin {
			return origin, true
		}
	}
	return "", false
}

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// Command fragments are inserted with innerHTML, so inline
			// styles stay allowed. connect-src 'self' covers the websocket.
			w.Header().Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self'; "+
					"style-src 'self' 'unsafe-inline'; "+
					"img-src 'self' data:; "+
					"connect-src 'self'; "+
					"frame-ancestors 'none'")

			next.ServeHTTP(w, r)
		})
	}
}

const (
	// evictionLogInterval is the minimum time between eviction warnings.
	evictionLogInterval = 30 * time.Second
	limiterIdleTTL      = 10 * time.Minute
	limiterSweepEvery   = 5 * time.Minute
)

// clientLimiter is one client's token bucket.
type clientLimiter struct {
	ip       string
	bucket   *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds a token bucket per client IP. At capacity the least
// recently seen client is dropped so new clients are never refused.
type clientLimiters struct {
	rps      rate.Limit
	burst    int
	capacity int
	log      *logging.Logger

	mu           sync.Mutex
	byIP         map[string]*list.Element
	recency      *list.List // front is the most recent client
	evicted      int
	lastEvictLog time.Time
}

func newClientLimiters(rps float64, burst, capacity int, log *logging.Logger) *clientLimiters {
	return &clientLimiters{
		rps:      rate.Limit(rps),
		burst:    burst,
		capacity: capacity,
		log:      log,
		byIP:     make(map[string]*list.Element),
		recency:  list.New(),
	}
}

// allow takes a token from ip's bucket.
func (c *clientLimiters) allow(ip string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byIP[ip]; ok {
		c.recency.MoveToFront(elem)
		cl := elem.Value.(*clientLimiter)
		cl.lastSeen = now
		return cl.bucket.Allow()
	}

	if c.recency.Len() >= c.capacity {
		c.evictOldest(now)
	}
	cl := &clientLimiter{ip: ip, bucket: rate.NewLimiter(c.rps, c.burst), lastSeen: now}
	c.byIP[ip] = c.recency.PushFront(cl)
	return cl.bucket.Allow()
}

// evictOldest drops the least recent client. Warnings are rate limited.
func (c *clientLimiters) evictOldest(now time.Time) {
	back := c.recency.Back()
	if back == nil {
		return
	}
	c.recency.Remove(back)
	delete(c.byIP, back.Value.(*clientLimiter).ip)

	c.evicted++
	if now.Sub(c.lastEvictLog) >= evictionLogInterval {
		c.log.Warn().Int("evicted", c.evicted).Int("capacity", c.capacity).Msg("evicted least-recent clients")
		c.lastEvictLog = now
		c.evicted = 0
	}
}

// sweep drops clients idle for longer than ttl. Recency order follows
// access, so idle entries may sit anywhere in the list.
func (c *clientLimiters) sweep(now time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.recency.Back(); e != nil; {
		prev := e.Prev()
		if cl := e.Value.(*clientLimiter); now.Sub(cl.lastSeen) > ttl {
			c.recency.Remove(e)
			delete(c.byIP, cl.ip)
		}
		e = prev
	}
}

// RateLimitMiddleware limits each client IP to rps requests per second with
// the given burst, tracking at most maxIPs clients.
//
// Idle clients are swept by a goroutine that exits when ctx is cancelled;
// the returned channel is closed once it has.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, maxIPs int, log *logging.Logger) (func(http.Handler) http.Handler, <-chan struct{}) {
	if maxIPs <= 0 {
		maxIPs = 10000
	}
	if log == nil {
		log = logging.Nop()
	}
	limiters := newClientLimiters(rps, burst, maxIPs, log.Component("ratelimit"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				limiters.sweep(now, limiterIdleTTL)
			case <-ctx.Done():
				return
			}
		}
	}()

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(getClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return middleware, done
}

// getClientIP extracts the client IP from the request.
// It only trusts X-Forwarded-For / X-Real-IP when the immediate peer is a
// loopback or private address (i.e., behind a reverse proxy).
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	trustedProxy := peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate())

	if trustedProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if parts := strings.SplitN(xff, ",", 2); len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
