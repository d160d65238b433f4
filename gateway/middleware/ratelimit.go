package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nhblease/config"
	"nhblease/observability"
)

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client. Idle buckets are dropped
// on the next request after visitorTTL.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

func NewRateLimiter(cfg config.RateLimit) *RateLimiter {
	perSecond := cfg.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

func (r *RateLimiter) Middleware(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.obtainLimiter(clientID(req)).Allow() {
				observability.ModuleMetrics().RecordThrottle(module, "rate_limit")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	for key, v := range r.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(r.visitors, key)
		}
	}
	v, ok := r.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter
}

func clientID(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return "key:" + key
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
