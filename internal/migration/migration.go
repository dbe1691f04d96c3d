package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	demandbilldomain "github.com/smallbiznis/feeledger/internal/demandbill/domain"
	feeconfigdomain "github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
	"github.com/smallbiznis/feeledger/internal/roster"
	"gorm.io/gorm"
)

// RunMigrations applies the embedded PostgreSQL migrations.
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

	driver, err := postgres.WithInstance(db, &postgres.Config{})
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
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table the engine owns or reads.
func Models() []any {
	return []any{
		&roster.Class{},
		&roster.Student{},
		&feeconfigdomain.FeeCategory{},
		&feeconfigdomain.FeeStructure{},
		&ledgerdomain.StudentFeeRecord{},
		&ledgerdomain.FeeTransaction{},
		&ledgerdomain.CategoryCharge{},
		&demandbilldomain.BillSequence{},
		&demandbilldomain.DemandBill{},
		&demandbilldomain.DemandBillLine{},
	}
}

// AutoMigrate creates the schema from the gorm models. It backs the sqlite and
// mysql dialects, which the SQL migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
