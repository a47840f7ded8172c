package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"

	"github.com/gin-gonic/gin"
)

// rateLimit keys on client IP and matched route so one noisy caller cannot
// starve other endpoints.
func (s *Server) rateLimit(c *gin.Context) {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		c.Next()
		return
	}
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	key := fmt.Sprintf("ip:%s:route:%s %s", c.ClientIP(), c.Request.Method, route)

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		s.logger.WarnContext(c.Request.Context(), "rate_limiter_unavailable", "err", err)
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			c.Abort()
			return
		}
		c.Next()
		return
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		c.Abort()
		return
	}
	c.Next()
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
