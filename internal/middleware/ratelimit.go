package middleware

import (
	"net/http"
	"sync"
	"time"

	"pingme/internal/auth"
	apperrors "pingme/internal/errors"
	"pingme/internal/httputil"
	"pingme/internal/metrics"

	"golang.org/x/time/rate"
)

// LimiterPool hands out one token bucket per key.
type LimiterPool struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterPool creates a pool allowing rps events per second with the
// given burst for every key.
func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &LimiterPool{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if e, ok := p.limiters[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.limiters[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

// Allow reports whether key may perform one more event now.
func (p *LimiterPool) Allow(key string) bool {
	return p.get(key).AllowN(p.now(), 1)
}

// SetLimit changes the rate for existing and future keys.
func (p *LimiterPool) SetLimit(rps float64, burst int) {
	if rps <= 0 || burst <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rps = rate.Limit(rps)
	p.burst = burst
	for _, e := range p.limiters {
		e.limiter.SetLimit(p.rps)
		e.limiter.SetBurst(burst)
	}
}

// Prune drops buckets that have not been used for the idle TTL and returns
// how many were removed.
func (p *LimiterPool) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-p.idleTTL)
	removed := 0
	for key, e := range p.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(p.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (p *LimiterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

// RateLimitMiddleware throttles requests per authenticated user, falling
// back to the client IP for anonymous requests.
func RateLimitMiddleware(pool *LimiterPool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := auth.UserIDFromContext(r.Context())
			if key == "" {
				key = "ip:" + httputil.GetClientIP(r)
			}
			if !pool.Allow(key) {
				metrics.IncrementCounter("http_rate_limited_total", nil, "Requests rejected by the rate limiter")
				w.Header().Set("Retry-After", "1")
				httputil.WriteError(w, r, apperrors.NewRateLimitError(pool.burst, "1s"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
