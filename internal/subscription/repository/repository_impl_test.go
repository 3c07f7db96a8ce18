package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/subscription/domain"
	"github.com/smallbiznis/milkrun/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListBillableRequiresDeliveryPerson(t *testing.T) {
	f := testkit.NewFixture(t, time.Date(2026, time.April, 1, 0, 30, 0, 0, time.UTC))
	repo := Provide()

	assigned := f.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 7})
	paused := f.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 7})
	unassigned := f.SeedCustomer(testkit.CustomerSeed{})
	canceled := f.SeedCustomer(testkit.CustomerSeed{DeliveryPersonID: 7})
	require.NoError(t, f.DB.Model(&domain.Subscription{}).
		Where("customer_id = ?", paused.ID).
		Update("status", domain.SubscriptionStatusPaused).Error)
	require.NoError(t, f.DB.Model(&domain.Subscription{}).
		Where("customer_id = ?", canceled.ID).
		Update("status", domain.SubscriptionStatusCanceled).Error)

	subs, err := repo.ListBillable(context.Background(), f.DB)
	require.NoError(t, err)

	got := make([]snowflake.ID, 0, len(subs))
	for _, sub := range subs {
		got = append(got, sub.CustomerID)
		assert.NotZero(t, sub.DailyPrice)
	}
	assert.ElementsMatch(t, []snowflake.ID{assigned.ID, paused.ID}, got)
	assert.NotContains(t, got, unassigned.ID)
}
