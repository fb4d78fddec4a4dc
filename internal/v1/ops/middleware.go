package ops

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"

	"github.com/RoseWrightdev/Parlor/internal/v1/logging"
	"github.com/RoseWrightdev/Parlor/internal/v1/metrics"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// correlationID tags every request with a correlation id, minting one when
// the caller did not send one, and threads it through the request context
// so log lines from the handlers carry it.
func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, id)
		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// rateLimit enforces a per-client-IP limit on the route it wraps.
func rateLimit(l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.RateLimitRequests.Inc()

		ctx := c.Request.Context()
		lctx, err := l.Get(ctx, c.ClientIP())
		if err != nil {
			// Fail open.
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}

		c.Next()
	}
}
