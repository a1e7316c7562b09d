package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	accountdomain "github.com/smallbiznis/loyalty/internal/account/domain"
	"github.com/smallbiznis/loyalty/internal/events"
	pointsdomain "github.com/smallbiznis/loyalty/internal/points/domain"
	reconciledomain "github.com/smallbiznis/loyalty/internal/reconcile/domain"
	tierdomain "github.com/smallbiznis/loyalty/internal/tier/domain"
	voucherdomain "github.com/smallbiznis/loyalty/internal/voucher/domain"
	"gorm.io/gorm"
)

// Models lists every table the loyalty core owns.
func Models() []any {
	return []any{
		&accountdomain.Account{},
		&events.LoyaltyEvent{},
		&pointsdomain.PointsLedgerEntry{},
		&tierdomain.TierStatus{},
		&voucherdomain.Voucher{},
		&reconciledomain.MissingPointsReport{},
	}
}

func Source() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return src, nil
}

// RunMigrations applies the embedded Postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	src, err := Source()
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
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

// AutoMigrate builds the schema from the gorm models for SQLite and MySQL.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
