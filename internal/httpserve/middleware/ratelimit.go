package middleware

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// limiterStore hands out one token bucket per client key.
type limiterStore struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.RLock()
	limiter, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if limiter, ok = s.limiters[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(s.rps), s.burst)
	s.limiters[key] = limiter
	return limiter
}

// RateLimit throttles requests per client IP. Intended for the mutating API
// routes; reads and the event stream are not limited.
func RateLimit(rps float64, burst int) echo.MiddlewareFunc {
	store := &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !store.get(c.RealIP()).Allow() {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
