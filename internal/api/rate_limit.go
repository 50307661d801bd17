package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/fitroom/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

// allow charges cost tokens to the caller and writes the 429 response when
// the bucket is empty. Limiter errors let the request through.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, cost int) bool {
	if s.rateLimiter == nil {
		return true
	}

	route := routeLabel(r.URL.Path)
	subject := userID(r) + ":" + route

	decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
	if err != nil {
		s.logger.Printf("rate limiter check failed subject=%s err=%v", subject, err)
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := max(int(decision.RetryAfter.Round(time.Second).Seconds()), 1)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}
