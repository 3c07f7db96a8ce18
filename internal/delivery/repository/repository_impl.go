package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/delivery/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertIfAbsent creates the row unless (customer_id, delivery_date) exists.
// Existing rows are never overwritten.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, delivery *domain.Delivery) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}, {Name: "delivery_date"}},
			DoNothing: true,
		}).
		Create(delivery)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Delivery, error) {
	return find(db.WithContext(ctx), id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Delivery, error) {
	return find(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func find(db *gorm.DB, id snowflake.ID) (*domain.Delivery, error) {
	var delivery domain.Delivery
	err := db.Where("id = ?", id).Take(&delivery).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (r *repo) Settle(ctx context.Context, db *gorm.DB, delivery *domain.Delivery) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Delivery{}).
		Where("id = ? AND status = ?", delivery.ID, domain.StatusScheduled).
		Updates(map[string]any{
			"status":       delivery.Status,
			"notes":        delivery.Notes,
			"delivered_at": delivery.DeliveredAt,
			"updated_at":   delivery.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, deliveryPersonID snowflake.ID, date datatypes.Date) ([]domain.Delivery, error) {
	var deliveries []domain.Delivery
	stmt := db.WithContext(ctx).Where("delivery_date = ?", date)
	if deliveryPersonID != 0 {
		stmt = stmt.Where("delivery_person_id = ?", deliveryPersonID)
	}
	if err := stmt.Order("customer_id asc").Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}
