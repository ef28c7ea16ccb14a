package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepThreshold is the number of tracked clients above which idle entries are
// pruned on the next Allow call.
const sweepThreshold = 1024

// IPLimiter limits events per client IP, allowing a burst of perMinute and
// refilling evenly over a minute.
type IPLimiter struct {
	clock     Clock
	limit     rate.Limit
	burst     int
	perMinute int

	mu      sync.Mutex
	clients map[string]*ipEntry
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter returns a limiter allowing perMinute events per IP. perMinute
// <= 0 disables limiting and NewIPLimiter returns nil; a nil *IPLimiter allows
// everything.
func NewIPLimiter(clock Clock, perMinute int) *IPLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &IPLimiter{
		clock:     clock,
		limit:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:     perMinute,
		perMinute: perMinute,
		clients:   make(map[string]*ipEntry),
	}
}

// Allow consumes one event for ip.
func (l *IPLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) > sweepThreshold {
		l.sweep(now)
	}
	e := l.clients[ip]
	if e == nil {
		e = &ipEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// sweep drops clients idle for at least a minute. Their buckets have refilled
// completely, so a fresh entry behaves identically.
func (l *IPLimiter) sweep(now time.Time) {
	for ip, e := range l.clients {
		if now.Sub(e.lastSeen) >= time.Minute {
			delete(l.clients, ip)
		}
	}
}

// Tracked returns the number of client IPs currently held.
func (l *IPLimiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware rejects requests over the per-IP limit with 429. onReject, when
// non-nil, runs for each rejected request.
func (l *IPLimiter) Middleware(onReject func(r *http.Request), next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			if onReject != nil {
				onReject(r)
			}
			w.Header().Set("Retry-After", "60")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the remote IP of r without its port. Forwarding headers are
// not trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
