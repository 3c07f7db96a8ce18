package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository reads and stamps overdue ISSUED rows of the bottle ledger.
// An overdue row was issued on or before the cutoff and is neither
// returned nor already penalized.
type Repository interface {
	ListOverdueCustomers(ctx context.Context, db *gorm.DB, cutoff datatypes.Date) ([]snowflake.ID, error)
	ListOverdueForUpdate(ctx context.Context, db *gorm.DB, customerID snowflake.ID, cutoff datatypes.Date) ([]ledgerdomain.BottleLedgerEntry, error)
	MarkPenalized(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error
}
