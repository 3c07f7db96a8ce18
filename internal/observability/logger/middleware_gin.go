package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/milkrun/internal/observability/context"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	ErrorClassifier func(err error) string
}

// GinMiddleware tags each request context with its request id and the
// customer or delivery its route addresses, then logs one line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := obscontext.WithRequestID(c.Request.Context(), ensureRequestID(c))
		route := c.FullPath()
		switch resource, id := routeSubject(route, c.Param("id")); resource {
		case "customer":
			ctx = obscontext.WithCustomerID(ctx, id)
		case "delivery":
			ctx = obscontext.WithDeliveryID(ctx, id)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if provider := c.Param("provider"); provider != "" {
			fields = append(fields, zap.String("provider", strings.ToLower(provider)))
		}
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			fields = append(fields, zap.String("error_type", cfg.ErrorClassifier(lastErr.Err)))
		}

		log := FromContext(c.Request.Context())
		switch {
		case route == "/metrics" || route == "/healthz":
			log.Debug("http_request", fields...)
		case status >= http.StatusInternalServerError:
			log.Error("http_request", fields...)
		case status == http.StatusTooManyRequests:
			log.Warn("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

// routeSubject names the resource an :id route parameter refers to.
func routeSubject(route, id string) (string, string) {
	if id == "" {
		return "", ""
	}
	switch {
	case strings.HasPrefix(route, "/v1/customers/"):
		return "customer", id
	case strings.HasPrefix(route, "/v1/deliveries/"):
		return "delivery", id
	}
	return "", ""
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}
