package gormstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateSchema applies every pending relay_provider_health migration through
// golang-migrate, dispatching to the postgres or sqlite3 database driver
// by the gorm dialector's name. Both drivers wrap the already-open
// *sql.DB via WithInstance, so no separate connection or sql.Open-style
// driver registration is required.
func migrateSchema(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("gormstore: failed to get sql.DB: %w", err)
	}

	drv, err := openDialectDriver(db.Name(), sqlDB)
	if err != nil {
		return fmt.Errorf("gormstore: failed to open migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("gormstore: failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.Name(), drv)
	if err != nil {
		return fmt.Errorf("gormstore: failed to construct migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("gormstore: migration failed: %w", err)
	}
	return nil
}

// openDialectDriver selects the golang-migrate database.Driver matching
// dialect. Postgres gets its own driver name ("postgres"); every other
// dialect in this module's dependency surface (currently only sqlite, via
// glebarez/sqlite or modernc.org/sqlite) goes through sqlite3.WithInstance,
// which issues plain SQL against the already-open connection and needs no
// driver registered under a specific name.
func openDialectDriver(dialect string, sqlDB *sql.DB) (database.Driver, error) {
	switch dialect {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{})
	default:
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	}
}
