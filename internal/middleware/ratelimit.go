package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/darkden-lab/modhost/internal/httputil"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore keeps one token bucket per client IP and evicts idle ones.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      float64
	burst    int
	idle     time.Duration
}

func newRateLimiterStore(rps float64, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters: make(map[string]*ipLimiter),
		rps:      rps,
		burst:    burst,
		idle:     3 * time.Minute,
	}
}

func (s *rateLimiterStore) getLimiter(ip string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.limiters[ip]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst), lastSeen: now}
	s.limiters[ip] = entry
	return entry.limiter
}

func (s *rateLimiterStore) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ip, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > s.idle {
			delete(s.limiters, ip)
		}
	}
}

func (s *rateLimiterStore) cleanup(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.evict(now)
		case <-stop:
			return
		}
	}
}

// RateLimitMiddleware enforces a per-IP token bucket of rps requests per
// second with the given burst. Closing stop ends the eviction goroutine.
func RateLimitMiddleware(rps float64, burst int, stop <-chan struct{}) mux.MiddlewareFunc {
	store := newRateLimiterStore(rps, burst)
	go store.cleanup(stop)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.getLimiter(httputil.ClientIP(r), time.Now()).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
