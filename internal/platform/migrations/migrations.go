// Package migrations embeds the relational schema of the mirror and applies it
// with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Supported dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed sql
var files embed.FS

// Apply brings the schema of db up to date. The database handle stays open.
func Apply(db *sql.DB, dialect string) error {
	m, src, err := newMigrate(db, dialect)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Version reports the applied schema version, 0 when nothing is applied.
func Version(db *sql.DB, dialect string) (uint, bool, error) {
	m, src, err := newMigrate(db, dialect)
	if err != nil {
		return 0, false, err
	}
	defer src.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// newMigrate never hands ownership of db to golang-migrate: closing the
// returned Migrate would close db, so callers only close the source.
func newMigrate(db *sql.DB, dialect string) (*migrate.Migrate, source.Driver, error) {
	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case DialectSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(files, "sql/"+dialect)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s migrations: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("init migrations: %w", err)
	}
	return m, src, nil
}
