package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Status is the schema version after a run.
type Status struct {
	Version uint
	Dirty   bool
	Applied bool
}

// RunMigrations brings the postgres schema up to the newest embedded version.
// A dirty schema is reported and left for an operator to force.
func RunMigrations(db *sql.DB) (Status, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return Status{}, err
	}
	// The migrator is not closed: that would close the shared *sql.DB.

	if version, dirty, err := migrator.Version(); err == nil && dirty {
		return Status{Version: version, Dirty: true}, fmt.Errorf("schema version %d is dirty", version)
	}

	status := Status{Applied: true}
	if err := migrator.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return Status{}, fmt.Errorf("apply migrations: %w", err)
		}
		status.Applied = false
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("read schema version: %w", err)
	}
	status.Version = version
	status.Dirty = dirty
	return status, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migration database handle is required")
	}
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "muanapay_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
