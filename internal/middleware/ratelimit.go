package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

type RateChecker interface {
	CheckRate(ctx context.Context, identity, route string) (ratelimit.Decision, error)
}

// RateLimit checks the client's budget for the matched route pattern before the handler runs.
func RateLimit(checker RateChecker, clock func() time.Time) gin.HandlerFunc {
	if clock == nil {
		clock = time.Now
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		decision, err := checker.CheckRate(c.Request.Context(), ClientIP(c), route)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if decision.Remaining >= 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter(clock()).Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(retryAfter, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"limit":       decision.Limit,
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
