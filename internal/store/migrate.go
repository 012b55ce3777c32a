package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrateSqlite brings the SQLite database at path up to the latest schema.
func MigrateSqlite(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		db.Close()
		return err
	}
	return up("sqlite", driver)
}

// MigratePostgres brings the PostgreSQL database at dsn up to the latest schema.
func MigratePostgres(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		db.Close()
		return err
	}
	return up("postgres", driver)
}

func up(dialect string, driver database.Driver) error {
	src, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		driver.Close()
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		src.Close()
		driver.Close()
		return err
	}

	log.Info().Str("dialect", dialect).Msg("bringing-up-migrations")
	upErr := m.Up()
	e1, e2 := m.Close()
	log.Err(e1).Msg("close-source")
	log.Err(e2).Msg("close-database")

	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", dialect, upErr)
	}
	return nil
}
