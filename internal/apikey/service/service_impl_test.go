package service

import (
	"context"
	"testing"
	"time"

	apikeydomain "github.com/smallbiznis/milkrun/internal/apikey/domain"
	"github.com/smallbiznis/milkrun/internal/apikey/repository"
	"github.com/smallbiznis/milkrun/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.March, 3, 4, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *testkit.Fixture) {
	f := testkit.NewFixture(t, testNow, &apikeydomain.APIKey{})
	svc := New(Params{
		DB:    f.DB,
		Log:   f.Log,
		GenID: f.Node,
		Clock: f.Clock,
		Repo:  repository.Provide(),
	}).(*Service)
	return svc, f
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "route 7", Role: "Delivery_Agent"})
	require.NoError(t, err)
	assert.Equal(t, apikeydomain.RoleDeliveryAgent, secret.Role)
	assert.Contains(t, secret.APIKey, apiKeyPrefix)

	var stored apikeydomain.APIKey
	require.NoError(t, f.DB.Where("key_id = ?", secret.KeyID).Take(&stored).Error)
	assert.NotEqual(t, secret.APIKey, stored.KeyHash)
	assert.Equal(t, apikeydomain.HashAPIKey(secret.APIKey), stored.KeyHash)

	key, err := svc.Authenticate(ctx, secret.APIKey)
	require.NoError(t, err)
	assert.Equal(t, secret.KeyID, key.KeyID)

	require.NoError(t, f.DB.Where("key_id = ?", secret.KeyID).Take(&stored).Error)
	require.NotNil(t, stored.LastUsedAt)

	_, err = svc.Authenticate(ctx, secret.APIKey+"x")
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: " ", Role: apikeydomain.RoleAdmin})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)
	_, err = svc.Create(ctx, apikeydomain.CreateRequest{Name: "ops", Role: "owner"})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidRole)
}

func TestRotateKeepsOldKeyForGracePeriod(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "ops", Role: apikeydomain.RoleAdmin})
	require.NoError(t, err)
	second, err := svc.Rotate(ctx, first.KeyID)
	require.NoError(t, err)
	assert.NotEqual(t, first.KeyID, second.KeyID)
	assert.Equal(t, apikeydomain.RoleAdmin, second.Role)

	_, err = svc.Authenticate(ctx, first.APIKey)
	require.NoError(t, err)

	f.Clock.Advance(apiKeyRotationGracePeriod + time.Minute)
	_, err = svc.Authenticate(ctx, first.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
	_, err = svc.Authenticate(ctx, second.APIKey)
	assert.NoError(t, err)

	keys, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.NotNil(t, keys[0].RotatedFromKeyID)
	assert.Equal(t, first.KeyID, *keys[0].RotatedFromKeyID)
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "ops", Role: apikeydomain.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, secret.KeyID))

	_, err = svc.Authenticate(ctx, secret.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
	_, err = svc.Rotate(ctx, secret.KeyID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
	assert.ErrorIs(t, svc.Revoke(ctx, "key_missing"), apikeydomain.ErrNotFound)
	assert.ErrorIs(t, svc.Revoke(ctx, ""), apikeydomain.ErrInvalidKeyID)
}
