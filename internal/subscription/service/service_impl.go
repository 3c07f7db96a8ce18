package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/billingerror"
	"github.com/smallbiznis/milkrun/internal/clock"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	deliverydomain "github.com/smallbiznis/milkrun/internal/delivery/domain"
	"github.com/smallbiznis/milkrun/internal/pricing"
	"github.com/smallbiznis/milkrun/internal/status"
	"github.com/smallbiznis/milkrun/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Calendar  *clock.Calendar
	Pricing   *pricing.Provider
	Repo      domain.Repository
	Customers customerdomain.Repository
	Status    *status.Engine
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	calendar  *clock.Calendar
	pricing   *pricing.Provider
	repo      domain.Repository
	customers customerdomain.Repository
	status    *status.Engine
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		calendar:  p.Calendar,
		pricing:   p.Pricing,
		repo:      p.Repo,
		customers: p.Customers,
		status:    p.Status,
	}
}

func (s *Service) now() time.Time {
	return s.calendar.Now().UTC()
}

// quote prices a daily quantity from the live table.
func (s *Service) quote(quantity int) (int64, pricing.Composition, error) {
	table, err := s.pricing.Current()
	if err != nil {
		return 0, pricing.Composition{}, err
	}
	price, err := table.PriceFor(quantity)
	if err != nil {
		return 0, pricing.Composition{}, err
	}
	comp, err := table.Composition(quantity)
	if err != nil {
		return 0, pricing.Composition{}, err
	}
	return price, comp, nil
}

// Subscribe starts a subscription, or restarts a canceled one with its
// delivery and deposit counters intact.
func (s *Service) Subscribe(ctx context.Context, req domain.SubscribeRequest) (domain.Subscription, error) {
	if req.CustomerID == 0 {
		return domain.Subscription{}, domain.ErrInvalidCustomer
	}
	price, comp, err := s.quote(req.DailyQuantity)
	if err != nil {
		return domain.Subscription{}, err
	}

	var sub domain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customers.FindByIDForUpdate(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return customerdomain.ErrCustomerNotFound
		}

		existing, err := s.repo.FindByCustomerForUpdate(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		now := s.now()
		switch {
		case existing == nil:
			sub = domain.Subscription{
				ID:            s.genID.Generate(),
				CustomerID:    req.CustomerID,
				DailyQuantity: req.DailyQuantity,
				DailyPrice:    price,
				LargeBottles:  comp.Large,
				SmallBottles:  comp.Small,
				Status:        domain.SubscriptionStatusActive,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.repo.Insert(ctx, tx, &sub); err != nil {
				return err
			}
		case existing.Status == domain.SubscriptionStatusCanceled:
			sub = *existing
			sub.DailyQuantity = req.DailyQuantity
			sub.DailyPrice = price
			sub.LargeBottles = comp.Large
			sub.SmallBottles = comp.Small
			sub.Status = domain.SubscriptionStatusActive
			sub.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, &sub); err != nil {
				return err
			}
		default:
			return domain.ErrAlreadySubscribed
		}

		_, err = s.status.UpdateStatus(ctx, tx, req.CustomerID)
		return err
	})
	if err != nil {
		return domain.Subscription{}, billingerror.Aborted(err)
	}

	s.log.Info("subscription started",
		zap.String("customer_id", req.CustomerID.String()),
		zap.Int("daily_quantity", sub.DailyQuantity),
		zap.Int64("daily_price", sub.DailyPrice),
	)
	return sub, nil
}

// ChangeQuantity re-prices the subscription. Deliveries already scheduled
// keep the quantity they were created with.
func (s *Service) ChangeQuantity(ctx context.Context, req domain.ChangeQuantityRequest) (domain.Subscription, error) {
	price, comp, err := s.quote(req.DailyQuantity)
	if err != nil {
		return domain.Subscription{}, err
	}
	return s.mutate(ctx, req.CustomerID, func(sub *domain.Subscription) error {
		if sub.Status == domain.SubscriptionStatusCanceled {
			return domain.ErrSubscriptionCanceled
		}
		sub.DailyQuantity = req.DailyQuantity
		sub.DailyPrice = price
		sub.LargeBottles = comp.Large
		sub.SmallBottles = comp.Small
		return nil
	})
}

// Hold suspends deliveries until Resume without canceling the plan.
func (s *Service) Hold(ctx context.Context, customerID snowflake.ID) (domain.Subscription, error) {
	return s.mutate(ctx, customerID, func(sub *domain.Subscription) error {
		if sub.Status == domain.SubscriptionStatusCanceled {
			return domain.ErrSubscriptionCanceled
		}
		sub.Status = domain.SubscriptionStatusPaused
		return nil
	})
}

func (s *Service) Resume(ctx context.Context, customerID snowflake.ID) (domain.Subscription, error) {
	return s.mutate(ctx, customerID, func(sub *domain.Subscription) error {
		if sub.Status != domain.SubscriptionStatusPaused {
			return domain.ErrSubscriptionNotHeld
		}
		sub.Status = domain.SubscriptionStatusActive
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, customerID snowflake.ID) (domain.Subscription, error) {
	return s.mutate(ctx, customerID, func(sub *domain.Subscription) error {
		if sub.Status == domain.SubscriptionStatusCanceled {
			return domain.ErrSubscriptionCanceled
		}
		sub.Status = domain.SubscriptionStatusCanceled
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, customerID snowflake.ID, fn func(*domain.Subscription) error) (domain.Subscription, error) {
	var sub domain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByCustomerForUpdate(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrSubscriptionNotFound
		}
		sub = *existing
		if err := fn(&sub); err != nil {
			return err
		}
		sub.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, &sub); err != nil {
			return err
		}
		_, err = s.status.UpdateStatus(ctx, tx, customerID)
		return err
	})
	if err != nil {
		return domain.Subscription{}, billingerror.Aborted(err)
	}

	s.log.Info("subscription updated",
		zap.String("customer_id", customerID.String()),
		zap.String("status", string(sub.Status)),
		zap.Int("daily_quantity", sub.DailyQuantity),
	)
	return sub, nil
}

func (s *Service) Get(ctx context.Context, customerID snowflake.ID) (domain.Subscription, error) {
	sub, err := s.repo.FindByCustomer(ctx, s.db, customerID)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub == nil {
		return domain.Subscription{}, domain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

// AddPause records a pause day. A delivery already scheduled for that day
// is moved to PAUSED so it can never be settled.
func (s *Service) AddPause(ctx context.Context, req domain.PauseRequest) (domain.Pause, error) {
	if err := s.requireNotPast(req.Date, domain.ErrPauseInPast); err != nil {
		return domain.Pause{}, err
	}

	pause := domain.Pause{
		ID:         s.genID.Generate(),
		CustomerID: req.CustomerID,
		PauseDate:  req.Date,
		Reason:     strings.TrimSpace(req.Reason),
		CreatedAt:  s.now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByCustomer(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		if _, err := s.repo.InsertPause(ctx, tx, &pause); err != nil {
			return err
		}
		err = tx.Model(&deliverydomain.Delivery{}).
			Where("customer_id = ? AND delivery_date = ? AND status = ?", req.CustomerID, req.Date, deliverydomain.StatusScheduled).
			Updates(map[string]any{"status": deliverydomain.StatusPaused, "updated_at": pause.CreatedAt}).Error
		if err != nil {
			return err
		}
		_, err = s.status.UpdateStatus(ctx, tx, req.CustomerID)
		return err
	})
	if err != nil {
		return domain.Pause{}, billingerror.Aborted(err)
	}
	return pause, nil
}

func (s *Service) RemovePause(ctx context.Context, req domain.PauseRequest) error {
	if err := s.requireNotPast(req.Date, domain.ErrPauseInPast); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		removed, err := s.repo.DeletePause(ctx, tx, req.CustomerID, req.Date)
		if err != nil {
			return err
		}
		if !removed {
			return domain.ErrPauseNotFound
		}
		_, err = s.status.UpdateStatus(ctx, tx, req.CustomerID)
		return err
	})
	return billingerror.Aborted(err)
}

// UpsertModification sets the one-day override for a date. A delivery
// already scheduled for that day is re-priced to match.
func (s *Service) UpsertModification(ctx context.Context, req domain.ModificationRequest) (domain.DeliveryModification, error) {
	if err := s.requireNotPast(req.Date, domain.ErrModificationInPast); err != nil {
		return domain.DeliveryModification{}, err
	}
	price, comp, err := s.quote(req.Quantity)
	if err != nil {
		return domain.DeliveryModification{}, err
	}
	table, err := s.pricing.Current()
	if err != nil {
		return domain.DeliveryModification{}, err
	}
	deposit, err := table.DepositFor(req.Quantity)
	if err != nil {
		return domain.DeliveryModification{}, err
	}

	now := s.now()
	mod := domain.DeliveryModification{
		ID:           s.genID.Generate(),
		CustomerID:   req.CustomerID,
		DeliveryDate: req.Date,
		Quantity:     req.Quantity,
		LargeBottles: comp.Large,
		SmallBottles: comp.Small,
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var stored *domain.DeliveryModification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByCustomer(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		if err := s.repo.UpsertModification(ctx, tx, &mod); err != nil {
			return err
		}
		err = tx.Model(&deliverydomain.Delivery{}).
			Where("customer_id = ? AND delivery_date = ? AND status = ?", req.CustomerID, req.Date, deliverydomain.StatusScheduled).
			Updates(map[string]any{
				"quantity":      mod.Quantity,
				"large_bottles": mod.LargeBottles,
				"small_bottles": mod.SmallBottles,
				"charge":        price,
				"deposit":       deposit,
				"notes":         mod.Notes,
				"updated_at":    now,
			}).Error
		if err != nil {
			return err
		}
		stored, err = s.repo.FindModification(ctx, tx, req.CustomerID, req.Date)
		return err
	})
	if err != nil {
		return domain.DeliveryModification{}, billingerror.Aborted(err)
	}
	if stored == nil {
		return mod, nil
	}
	return *stored, nil
}

func (s *Service) requireNotPast(day datatypes.Date, sentinel error) error {
	if time.Time(day).Before(time.Time(s.calendar.Today())) {
		return sentinel
	}
	return nil
}
