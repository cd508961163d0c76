// Package migrations applies the embedded archive schema.
package migrations

import (
	"database/sql"
	"embed"
	"errors"

	crerr "github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var files embed.FS

const migrationsTable = "arena_schema_migrations"

// Source returns the embedded migrations as a migrate source driver.
func Source() (source.Driver, error) {
	d, err := iofs.New(files, "sql")
	if err != nil {
		return nil, crerr.Wrap(err, "open embedded migrations")
	}
	return d, nil
}

// Up brings db to the latest schema version. An up-to-date schema is not an error.
func Up(db *sql.DB) error {
	src, err := Source()
	if err != nil {
		return err
	}
	driver, err := pg.WithInstance(db, &pg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return crerr.Wrap(err, "create migrate driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return crerr.Wrap(err, "create migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return crerr.Wrap(err, "migration up failed")
	}
	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return crerr.Wrap(verr, "read migration version")
	}
	obslog.L().Info("migrations_applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
