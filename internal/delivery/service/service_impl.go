package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/config"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	"github.com/smallbiznis/milkrun/internal/delivery/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/milkrun/internal/observability/metrics"
	"github.com/smallbiznis/milkrun/internal/pricing"
	"github.com/smallbiznis/milkrun/internal/status"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxWindowDays bounds one EnsureDeliveriesForWindow call.
const maxWindowDays = 31

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Calendar      *clock.Calendar
	Billing       *config.BillingConfigHolder
	Pricing       *pricing.Provider
	Repo          domain.Repository
	Customers     customerdomain.Repository
	Subscriptions subscriptiondomain.Repository
	Ledger        ledgerdomain.Service
	Status        *status.Engine
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	calendar      *clock.Calendar
	billing       *config.BillingConfigHolder
	pricing       *pricing.Provider
	repo          domain.Repository
	customers     customerdomain.Repository
	subscriptions subscriptiondomain.Repository
	ledger        ledgerdomain.Service
	status        *status.Engine
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("delivery.service"),
		genID:         p.GenID,
		calendar:      p.Calendar,
		billing:       p.Billing,
		pricing:       p.Pricing,
		repo:          p.Repo,
		customers:     p.Customers,
		subscriptions: p.Subscriptions,
		ledger:        p.Ledger,
		status:        p.Status,
		obsMetrics:    p.ObsMetrics,
	}
}

func (s *Service) now() time.Time {
	return s.calendar.Now().UTC()
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Delivery, error) {
	delivery, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Delivery{}, err
	}
	if delivery == nil {
		return domain.Delivery{}, domain.ErrDeliveryNotFound
	}
	return *delivery, nil
}

func (s *Service) List(ctx context.Context, req domain.ListDeliveriesRequest) ([]domain.Delivery, error) {
	day := req.Date
	if time.Time(day).IsZero() {
		day = s.calendar.Today()
	}
	return s.repo.List(ctx, s.db, req.DeliveryPersonID, day)
}

