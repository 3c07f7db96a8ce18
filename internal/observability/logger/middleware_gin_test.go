package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/milkrun/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareTagsRouteSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	seen := map[string]string{}
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/v1/customers/:id/status", func(c *gin.Context) {
		seen["customer"] = obscontext.CustomerIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	r.POST("/v1/deliveries/:id/mark", func(c *gin.Context) {
		seen["delivery"] = obscontext.DeliveryIDFromContext(c.Request.Context())
		c.Status(http.StatusConflict)
	})
	r.POST("/webhooks/payments/:provider", func(c *gin.Context) {
		c.Status(http.StatusTooManyRequests)
	})

	serve := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(requestIDHeader, "req-1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(http.MethodGet, "/v1/customers/42/status")
	assert.Equal(t, "req-1", rec.Header().Get(requestIDHeader))
	serve(http.MethodPost, "/v1/deliveries/77/mark")
	serve(http.MethodPost, "/webhooks/payments/Stripe")

	assert.Equal(t, "42", seen["customer"])
	assert.Equal(t, "77", seen["delivery"])

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, "42", entries[0].ContextMap()["customer_id"])
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "77", entries[1].ContextMap()["delivery_id"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "stripe", entries[2].ContextMap()["provider"])
}

func TestRouteSubject(t *testing.T) {
	resource, id := routeSubject("/v1/delivery-persons/:id/deliveries", "5")
	assert.Empty(t, resource)
	assert.Empty(t, id)

	resource, id = routeSubject("/v1/customers/:id/penalties", "9")
	assert.Equal(t, "customer", resource)
	assert.Equal(t, "9", id)

	resource, _ = routeSubject("/v1/customers/:id/status", "")
	assert.Empty(t, resource)
}
