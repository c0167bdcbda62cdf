package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/incidentkb/internal/logging"
)

const (
	// defaultRateLimit is the per-client search rate when Config.RateLimit is unset.
	defaultRateLimit = 10
	// defaultRateBurst is the per-client search burst when Config.RateBurst is unset.
	defaultRateBurst = 20
	// limiterIdleTTL is how long an unused client bucket is kept.
	limiterIdleTTL = 5 * time.Minute
)

// limiterSet holds one token bucket per client address. Buckets idle for
// longer than idleTTL are swept during lookups, so no background goroutine
// outlives the server.
type limiterSet struct {
	mu sync.Mutex
	// clients maps a client address to its bucket.
	clients map[string]*clientLimiter
	// limit and burst configure new buckets.
	limit rate.Limit
	burst int
	// idleTTL bounds how long a quiet client keeps its bucket.
	idleTTL time.Duration
	// lastSweep is when idle buckets were last dropped.
	lastSweep time.Time
	// now is the clock; tests replace it.
	now func() time.Time
}

// clientLimiter is one client's bucket and the last time it was used.
type clientLimiter struct {
	bucket *rate.Limiter
	seen   time.Time
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	return &limiterSet{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: limiterIdleTTL,
		now:     time.Now,
	}
}

// reserve takes a token for key and returns how long the client must wait
// before it would be available. A zero wait admits the request; otherwise
// the token is handed back so rejected requests do not deepen the debt.
func (l *limiterSet) reserve(key string) time.Duration {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		for k, c := range l.clients {
			if now.Sub(c.seen) > l.idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	l.mu.Unlock()

	r := c.bucket.ReserveN(now, 1)
	if !r.OK() {
		return l.idleTTL
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
	}
	return delay
}

// size returns the number of tracked clients.
func (l *limiterSet) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// throttle rejects requests from clients that have spent their burst with
// 429 and a Retry-After header holding the whole seconds until the next
// token, and counts each rejection under handler.
func (s *Server) throttle(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		wait := s.limiter.reserve(ip)
		if wait <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		log := logging.FromContext(r.Context())
		log.Warn("rate limit exceeded",
			slog.String("client_ip", ip),
			slog.Duration("retry_after", wait),
		)
		s.metrics.rateLimitedTotal.WithLabelValues(handler).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", log)
	})
}

// clientIP returns the host part of the connection's remote address.
// Forwarding headers are ignored; put a proxy that rewrites RemoteAddr in
// front of the server if it runs behind a load balancer.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
