package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	"github.com/smallbiznis/milkrun/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	"github.com/smallbiznis/milkrun/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Ledger ledgerdomain.Service
	Status *status.Engine
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	ledger ledgerdomain.Service
	status *status.Engine
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("customer.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		ledger: p.Ledger,
		status: p.Status,
	}
}

// Register creates a VISITOR customer together with an empty wallet.
func (s *Service) Register(ctx context.Context, req domain.RegisterCustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}
	phone := strings.TrimSpace(req.Phone)
	if len(phone) < 6 {
		return domain.Customer{}, domain.ErrInvalidPhone
	}

	now := s.clock.Now().UTC()
	customer := domain.Customer{
		ID:        s.genID.Generate(),
		Name:      name,
		Phone:     phone,
		Address:   strings.TrimSpace(req.Address),
		Status:    domain.StatusVisitor,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &customer); err != nil {
			return err
		}
		_, err := s.ledger.CreateWallet(ctx, tx, customer.ID)
		return err
	})
	if err != nil {
		return domain.Customer{}, billingerror.Aborted(err)
	}

	s.log.Info("customer registered", zap.String("customer_id", customer.ID.String()))
	return customer, nil
}

// AssignDeliveryPerson puts the customer on a route and re-derives status,
// which moves a subscribed customer out of PENDING_APPROVAL.
func (s *Service) AssignDeliveryPerson(ctx context.Context, req domain.AssignDeliveryPersonRequest) (domain.Customer, error) {
	if req.DeliveryPersonID == 0 {
		return domain.Customer{}, domain.ErrInvalidDeliveryPerson
	}

	var customer *domain.Customer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindByIDForUpdate(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if found == nil {
			return domain.ErrCustomerNotFound
		}
		dp := req.DeliveryPersonID
		if err := s.repo.UpdateDeliveryPerson(ctx, tx, found.ID, &dp); err != nil {
			return err
		}
		if _, err := s.status.UpdateStatus(ctx, tx, found.ID); err != nil {
			return err
		}
		customer, err = s.repo.FindByID(ctx, tx, found.ID)
		return err
	})
	if err != nil {
		return domain.Customer{}, billingerror.Aborted(err)
	}

	s.log.Info("delivery person assigned",
		zap.String("customer_id", customer.ID.String()),
		zap.String("delivery_person_id", req.DeliveryPersonID.String()),
		zap.String("status", string(customer.Status)),
	)
	return *customer, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Customer, error) {
	customer, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if customer == nil {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return *customer, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCustomerRequest) ([]domain.Customer, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	items, err := s.repo.List(ctx, s.db, domain.ListCustomerFilter{
		Status:           req.Status,
		DeliveryPersonID: req.DeliveryPersonID,
		Limit:            limit,
	})
	if err != nil {
		return nil, err
	}

	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		customers = append(customers, *item)
	}
	return customers, nil
}

