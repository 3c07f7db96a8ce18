package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertIfAbsent creates the record unless the customer already has one
// for the period.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *domain.MonthlyPayment) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}, {Name: "year"}, {Name: "month"}},
			DoNothing: true,
		}).
		Create(payment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MonthlyPayment, error) {
	return take(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MonthlyPayment, error) {
	return take(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repo) FindByPeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, year int, month time.Month) (*domain.MonthlyPayment, error) {
	return take(db.WithContext(ctx).
		Where("customer_id = ? AND year = ? AND month = ?", customerID, year, int(month)))
}

func take(q *gorm.DB) (*domain.MonthlyPayment, error) {
	var payment domain.MonthlyPayment
	err := q.Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payment *domain.MonthlyPayment) error {
	return db.WithContext(ctx).
		Model(&domain.MonthlyPayment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]any{
			"amount_due":  payment.AmountDue,
			"amount_paid": payment.AmountPaid,
			"status":      payment.Status,
			"paid_at":     payment.PaidAt,
			"updated_at":  payment.UpdatedAt,
		}).Error
}

func (r *repo) ListPendingCustomers(ctx context.Context, db *gorm.DB, year int, month time.Month) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.MonthlyPayment{}).
		Where("year = ? AND month = ? AND status = ?", year, int(month), domain.StatusPending).
		Order("customer_id asc").
		Pluck("customer_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkOverdue moves every PENDING record of the period to OVERDUE.
func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, year int, month time.Month, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.MonthlyPayment{}).
		Where("year = ? AND month = ? AND status = ?", year, int(month), domain.StatusPending).
		Updates(map[string]any{"status": domain.StatusOverdue, "updated_at": at})
	return res.RowsAffected, res.Error
}
