// Package db owns the schema migrations for the shiplog database.
package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies any migrations the database has not seen yet. The SQL
// files are embedded in the binary, so serve and migrate commands need no
// files on disk. connURL is a postgres:// or postgresql:// URL.
//
// A dirty schema_migrations row aborts the run; that state means an
// earlier migration died halfway and someone has to look at the schema
// before anything else touches it.
func Migrate(connURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	dsn, err := migrateDSN(connURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			slog.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			slog.Warn("closing migration connection", "error", dbErr)
		}
	}()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema is dirty at version %d, inspect it and run: migrate force %d", version, version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("schema already up to date", "version", version)
			return nil
		}
		if v, d, vErr := m.Version(); vErr == nil && d {
			slog.Error("migration left the schema dirty",
				"version", v,
				"hint", fmt.Sprintf("fix the migration and run: migrate force %d", v))
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		slog.Info("schema migrated", "version", v)
	}
	return nil
}

// migrateDSN rewrites a postgres URL onto the pgx5 scheme that
// golang-migrate registers for the pgx v5 driver.
func migrateDSN(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("database URL scheme %q is not postgres", u.Scheme)
	}
}
