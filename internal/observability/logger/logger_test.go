package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/milkrun/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSampleBelowWarnKeepsEveryWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(sampleBelowWarn(core, 1, 1000)).With(zap.String("service", "milkrun"))

	for i := 0; i < 5; i++ {
		log.Info("delivery marked")
		log.Warn("penalty charge failed")
	}

	assert.Equal(t, 1, logs.FilterMessage("delivery marked").Len())
	assert.Equal(t, 5, logs.FilterMessage("penalty charge failed").Len())
	for _, entry := range logs.All() {
		assert.Equal(t, "milkrun", entry.ContextMap()["service"])
	}
}

func TestSampleBelowWarnHonoursCoreLevel(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	log := zap.New(sampleBelowWarn(core, 0, 0))

	log.Info("ignored")
	log.Warn("ignored too")
	log.Error("wallet delta failed")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "wallet delta failed", logs.All()[0].Message)
}

func TestWithContextTagsBillingFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("bare")
	assert.Empty(t, logs.All()[0].ContextMap())

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithActor(ctx, "api_key", "mk_live_1")
	ctx = obscontext.WithCustomerID(ctx, "42")
	ctx = obscontext.WithDeliveryID(ctx, "77")
	ctx = obscontext.WithJob(ctx, "penalty_sweep", "1001")
	WithContext(ctx, base).Info("tagged")

	fields := logs.All()[1].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "api_key", fields["actor_type"])
	assert.Equal(t, "mk_live_1", fields["actor_id"])
	assert.Equal(t, "42", fields["customer_id"])
	assert.Equal(t, "77", fields["delivery_id"])
	assert.Equal(t, "penalty_sweep", fields["job"])
	assert.Equal(t, "1001", fields["run_id"])
	assert.NotContains(t, fields, "trace_id")
}
