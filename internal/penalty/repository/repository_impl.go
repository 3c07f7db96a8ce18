package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	"github.com/smallbiznis/milkrun/internal/penalty/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func overdue(db *gorm.DB, cutoff datatypes.Date) *gorm.DB {
	return db.Model(&ledgerdomain.BottleLedgerEntry{}).
		Where("action = ? AND issued_date <= ? AND returned_at IS NULL AND penalty_applied_at IS NULL",
			ledgerdomain.ActionIssued, cutoff)
}

func (r *repo) ListOverdueCustomers(ctx context.Context, db *gorm.DB, cutoff datatypes.Date) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := overdue(db.WithContext(ctx), cutoff).
		Distinct("customer_id").
		Order("customer_id asc").
		Pluck("customer_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListOverdueForUpdate(ctx context.Context, db *gorm.DB, customerID snowflake.ID, cutoff datatypes.Date) ([]ledgerdomain.BottleLedgerEntry, error) {
	var rows []ledgerdomain.BottleLedgerEntry
	err := overdue(db.WithContext(ctx), cutoff).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ?", customerID).
		Order("issued_date asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkPenalized(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&ledgerdomain.BottleLedgerEntry{}).
		Where("id IN ? AND penalty_applied_at IS NULL", ids).
		Update("penalty_applied_at", at).Error
}
