package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.Subscription, error) {
	return findSubscription(db.WithContext(ctx), customerID)
}

func (r *repo) FindByCustomerForUpdate(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*domain.Subscription, error) {
	return findSubscription(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), customerID)
}

func findSubscription(db *gorm.DB, customerID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.Where("customer_id = ?", customerID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{
			"daily_quantity":                 sub.DailyQuantity,
			"daily_price":                    sub.DailyPrice,
			"large_bottles":                  sub.LargeBottles,
			"small_bottles":                  sub.SmallBottles,
			"delivery_count":                 sub.DeliveryCount,
			"last_deposit_at_delivery_count": sub.LastDepositAtDeliveryCount,
			"status":                         sub.Status,
			"updated_at":                     sub.UpdatedAt,
		}).Error
}

// ListBillable returns live subscriptions whose customer has a delivery
// person assigned.
func (r *repo) ListBillable(ctx context.Context, db *gorm.DB) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	err := db.WithContext(ctx).
		Select("subscriptions.*").
		Joins("JOIN customers ON customers.id = subscriptions.customer_id").
		Where("subscriptions.status IN ?", []domain.SubscriptionStatus{
			domain.SubscriptionStatusActive,
			domain.SubscriptionStatusPaused,
		}).
		Where("customers.delivery_person_id IS NOT NULL AND customers.delivery_person_id <> 0").
		Order("subscriptions.customer_id asc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) InsertPause(ctx context.Context, db *gorm.DB, pause *domain.Pause) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(pause)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DeletePause(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date datatypes.Date) (bool, error) {
	res := db.WithContext(ctx).
		Where("customer_id = ? AND pause_date = ?", customerID, date).
		Delete(&domain.Pause{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) HasPauseOnOrAfter(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date datatypes.Date) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Pause{}).
		Where("customer_id = ? AND pause_date >= ?", customerID, date).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) HasPauseOn(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date datatypes.Date) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Pause{}).
		Where("customer_id = ? AND pause_date = ?", customerID, date).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) FindModification(ctx context.Context, db *gorm.DB, customerID snowflake.ID, date datatypes.Date) (*domain.DeliveryModification, error) {
	var mod domain.DeliveryModification
	err := db.WithContext(ctx).
		Where("customer_id = ? AND delivery_date = ?", customerID, date).
		Take(&mod).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mod, nil
}

func (r *repo) UpsertModification(ctx context.Context, db *gorm.DB, mod *domain.DeliveryModification) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}, {Name: "delivery_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "large_bottles", "small_bottles", "notes", "updated_at"}),
		}).
		Create(mod).Error
}
