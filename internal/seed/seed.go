// Package seed loads a small demo route so a fresh database has customers
// to deliver to.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	paymentdomain "github.com/smallbiznis/milkrun/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DemoCustomer is one seeded household.
type DemoCustomer struct {
	Name          string
	Phone         string
	Address       string
	DailyQuantity int
	OpeningCredit int64
}

// DefaultDemoRoute covers the interesting cases: a big daily order, a
// small one that needs only a small bottle, and a customer who starts with
// an empty wallet.
var DefaultDemoRoute = []DemoCustomer{
	{Name: "Asha Verma", Phone: "9800000001", Address: "12 Lake Road", DailyQuantity: 2000, OpeningCredit: 3000},
	{Name: "Ravi Iyer", Phone: "9800000002", Address: "4 Temple Street", DailyQuantity: 500, OpeningCredit: 1000},
	{Name: "Meera Das", Phone: "9800000003", Address: "7 Market Lane", DailyQuantity: 1500},
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Customers     customerdomain.Service
	Subscriptions subscriptiondomain.Service
	Payments      paymentdomain.Service
}

type Seeder struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	customers     customerdomain.Service
	subscriptions subscriptiondomain.Service
	payments      paymentdomain.Service
}

func New(p Params) *Seeder {
	return &Seeder{
		db:            p.DB,
		log:           p.Log.Named("seed"),
		genID:         p.GenID,
		customers:     p.Customers,
		subscriptions: p.Subscriptions,
		payments:      p.Payments,
	}
}

// Result names what a seeding run created.
type Result struct {
	DeliveryPersonID snowflake.ID   `json:"delivery_person_id"`
	CustomerIDs      []snowflake.ID `json:"customer_ids"`
	Skipped          bool           `json:"skipped"`
}

var ErrEmptyRoute = errors.New("seed route is empty")

// EnsureDemoRoute seeds route onto a new delivery person. It does nothing
// when the database already holds customers.
func (s *Seeder) EnsureDemoRoute(ctx context.Context, route []DemoCustomer) (Result, error) {
	if len(route) == 0 {
		return Result{}, ErrEmptyRoute
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&customerdomain.Customer{}).Count(&existing).Error; err != nil {
		return Result{}, err
	}
	if existing > 0 {
		s.log.Info("customers present; demo route skipped", zap.Int64("customers", existing))
		return Result{Skipped: true}, nil
	}

	result := Result{DeliveryPersonID: s.genID.Generate()}
	for _, demo := range route {
		customer, err := s.customers.Register(ctx, customerdomain.RegisterCustomerRequest{
			Name:    demo.Name,
			Phone:   demo.Phone,
			Address: demo.Address,
		})
		if err != nil {
			return result, fmt.Errorf("register %s: %w", demo.Name, err)
		}
		if _, err := s.subscriptions.Subscribe(ctx, subscriptiondomain.SubscribeRequest{
			CustomerID:    customer.ID,
			DailyQuantity: demo.DailyQuantity,
		}); err != nil {
			return result, fmt.Errorf("subscribe %s: %w", demo.Name, err)
		}
		if demo.OpeningCredit > 0 {
			if _, err := s.payments.AdminAdjust(ctx, paymentdomain.AdminAdjustRequest{
				CustomerID:  customer.ID,
				Delta:       demo.OpeningCredit,
				Description: "demo opening credit",
			}); err != nil {
				return result, fmt.Errorf("credit %s: %w", demo.Name, err)
			}
		}
		if _, err := s.customers.AssignDeliveryPerson(ctx, customerdomain.AssignDeliveryPersonRequest{
			CustomerID:       customer.ID,
			DeliveryPersonID: result.DeliveryPersonID,
		}); err != nil {
			return result, fmt.Errorf("assign %s: %w", demo.Name, err)
		}
		result.CustomerIDs = append(result.CustomerIDs, customer.ID)
	}

	s.log.Info("demo route seeded",
		zap.String("delivery_person_id", result.DeliveryPersonID.String()),
		zap.Int("customers", len(result.CustomerIDs)),
	)
	return result, nil
}
