package seed

import (
	"context"
	"errors"
	"testing"
	"time"

	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	paymentdomain "github.com/smallbiznis/milkrun/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	"github.com/smallbiznis/milkrun/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

type recorder struct {
	f        *testkit.Fixture
	steps    []string
	failStep string
}

func (r *recorder) step(name string) error {
	r.steps = append(r.steps, name)
	if name == r.failStep {
		return errors.New("boom")
	}
	return nil
}

type customers struct {
	customerdomain.Service
	*recorder
}

func (c customers) Register(ctx context.Context, req customerdomain.RegisterCustomerRequest) (customerdomain.Customer, error) {
	if err := c.step("register"); err != nil {
		return customerdomain.Customer{}, err
	}
	return c.f.SeedCustomer(testkit.CustomerSeed{NoSubscription: true}), nil
}

func (c customers) AssignDeliveryPerson(ctx context.Context, req customerdomain.AssignDeliveryPersonRequest) (customerdomain.Customer, error) {
	return customerdomain.Customer{ID: req.CustomerID}, c.step("assign")
}

type subscriptions struct {
	subscriptiondomain.Service
	*recorder
}

func (s subscriptions) Subscribe(ctx context.Context, req subscriptiondomain.SubscribeRequest) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{CustomerID: req.CustomerID, DailyQuantity: req.DailyQuantity}, s.step("subscribe")
}

type payments struct {
	paymentdomain.Service
	*recorder
}

func (p payments) AdminAdjust(ctx context.Context, req paymentdomain.AdminAdjustRequest) (paymentdomain.WalletResult, error) {
	return paymentdomain.WalletResult{}, p.step("credit")
}

func newTestSeeder(t *testing.T) (*Seeder, *recorder) {
	t.Helper()
	f := testkit.NewFixture(t, testNow)
	rec := &recorder{f: f}
	return New(Params{
		DB:            f.DB,
		Log:           f.Log,
		GenID:         f.Node,
		Customers:     customers{recorder: rec},
		Subscriptions: subscriptions{recorder: rec},
		Payments:      payments{recorder: rec},
	}), rec
}

func TestEnsureDemoRouteSeedsEveryCustomer(t *testing.T) {
	seeder, rec := newTestSeeder(t)

	result, err := seeder.EnsureDemoRoute(context.Background(), []DemoCustomer{
		{Name: "A", Phone: "9800000001", DailyQuantity: 1000, OpeningCredit: 500},
		{Name: "B", Phone: "9800000002", DailyQuantity: 500},
	})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.NotZero(t, result.DeliveryPersonID)
	assert.Len(t, result.CustomerIDs, 2)
	assert.Equal(t, []string{
		"register", "subscribe", "credit", "assign",
		"register", "subscribe", "assign",
	}, rec.steps)
}

func TestEnsureDemoRouteSkipsPopulatedDatabase(t *testing.T) {
	seeder, rec := newTestSeeder(t)
	rec.f.SeedCustomer(testkit.CustomerSeed{})

	result, err := seeder.EnsureDemoRoute(context.Background(), DefaultDemoRoute)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, rec.steps)
}

func TestEnsureDemoRouteStopsAtFirstFailure(t *testing.T) {
	seeder, rec := newTestSeeder(t)
	rec.failStep = "subscribe"

	_, err := seeder.EnsureDemoRoute(context.Background(), DefaultDemoRoute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe Asha Verma")
	assert.Equal(t, []string{"register", "subscribe"}, rec.steps)

	_, err = seeder.EnsureDemoRoute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyRoute)
}
