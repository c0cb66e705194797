package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dunamismax/slideflow/internal/ratelimit"
)

// RateLimiter gates render submissions per subject. A nil limiter disables
// the gate entirely.
type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit throttles only POST /v1/slideshows; render submission is the
// one expensive operation clients can spam. Read paths stay unmetered.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || routeLabel(r.URL.Path) != "/v1/slideshows" {
			next.ServeHTTP(w, r)
			return
		}

		subject := r.Header.Get("Authorization")
		if subject == "" {
			subject = clientAddr(r)
		}

		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			// Fail open. The limiter losing its backend should not take
			// submissions down with it.
			s.logger.Printf("rate limit check failed err=%v", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			s.metrics.rateLimitRejected.WithLabelValues("/v1/slideshows").Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many render requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
