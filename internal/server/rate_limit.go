package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/milkrun/internal/observability/logger"
	milkredis "github.com/smallbiznis/milkrun/internal/redis"
	"go.uber.org/zap"
)

// WebhookLimiter decides whether one more webhook from a provider is
// accepted right now.
type WebhookLimiter interface {
	AllowWebhook(ctx context.Context, provider string) (milkredis.RateLimitResult, error)
}

// WebhookRateLimit throttles webhook deliveries per provider. Requests pass
// when the limiter itself fails.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
		res, err := s.limiter.AllowWebhook(ctx, provider)
		if err != nil {
			obslogger.FromContext(ctx).Warn("webhook rate limit check failed", zap.String("provider", provider), zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			obslogger.FromContext(ctx).Warn("webhook rate limit exceeded", zap.String("provider", provider))
			s.obsMetrics.RecordWebhookThrottled(ctx, provider)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
