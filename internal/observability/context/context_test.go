package context

import (
	stdcontext "context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := stdcontext.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, " req-1 ")
	ctx = WithActor(ctx, "api_key", "42")
	ctx = WithCustomerID(ctx, "7")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, "api_key", actorType)
	assert.Equal(t, "42", actorID)
	assert.Equal(t, "7", CustomerIDFromContext(ctx))

	assert.Empty(t, DeliveryIDFromContext(ctx))
	name, runID := JobFromContext(ctx)
	assert.Empty(t, name)
	assert.Empty(t, runID)

	ctx = WithDeliveryID(ctx, "99")
	ctx = WithJob(ctx, "penalty_sweep", " 123 ")
	assert.Equal(t, "99", DeliveryIDFromContext(ctx))
	name, runID = JobFromContext(ctx)
	assert.Equal(t, "penalty_sweep", name)
	assert.Equal(t, "123", runID)
}
