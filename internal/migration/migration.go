package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	apikeydomain "github.com/smallbiznis/milkrun/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/milkrun/internal/audit/domain"
	customerdomain "github.com/smallbiznis/milkrun/internal/customer/domain"
	deliverydomain "github.com/smallbiznis/milkrun/internal/delivery/domain"
	ledgerdomain "github.com/smallbiznis/milkrun/internal/ledger/domain"
	monthlydomain "github.com/smallbiznis/milkrun/internal/monthlypayment/domain"
	paymentdomain "github.com/smallbiznis/milkrun/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/milkrun/internal/subscription/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the engine, in dependency order.
func Models() []any {
	return []any{
		&customerdomain.Customer{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Pause{},
		&subscriptiondomain.DeliveryModification{},
		&ledgerdomain.Wallet{},
		&ledgerdomain.WalletTransaction{},
		&ledgerdomain.BottleLedgerEntry{},
		&deliverydomain.Delivery{},
		&monthlydomain.MonthlyPayment{},
		&paymentdomain.EventRecord{},
		&paymentdomain.TopUpOrder{},
		&auditdomain.AuditLog{},
		&apikeydomain.APIKey{},
	}
}

// Apply brings the schema up to date. Postgres runs the versioned SQL
// migrations; other dialects are only used for local runs and tests and
// get the gorm models auto-migrated.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded SQL migrations to a postgres
// database. golang-migrate takes an advisory lock, so concurrent starts
// are safe.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "milkrun_schema_migrations"})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Close would also close the shared *sql.DB.

	return nil
}

// Version reports the applied migration version on postgres.
func Version(db *sql.DB) (uint, bool, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return 0, false, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return 0, false, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "milkrun_schema_migrations"})
	if err != nil {
		return 0, false, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return 0, false, fmt.Errorf("create migrator: %w", err)
	}
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
