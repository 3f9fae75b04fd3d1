// Package migrations carries the hub schema and applies it with golang-migrate.
//
// The SQL files use unqualified table names; Up pins search_path to the
// target schema on a dedicated connection so the same files serve the
// production "hub" schema and throwaway test schemas alike.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed *.sql
var files embed.FS

// DefaultSchema is where the hub tables live unless configured otherwise.
const DefaultSchema = "hub"

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Up creates schema if needed and applies every pending migration to it.
func Up(ctx context.Context, db *sql.DB, schema string) error {
	m, closeFn, err := open(ctx, db, schema)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Version reports the applied migration version and whether it is dirty.
func Version(ctx context.Context, db *sql.DB, schema string) (uint, bool, error) {
	m, closeFn, err := open(ctx, db, schema)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func open(ctx context.Context, db *sql.DB, schema string) (*migrate.Migrate, func(), error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if !schemaRe.MatchString(schema) {
		return nil, nil, fmt.Errorf("migrations: invalid schema %q", schema)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	ident := pq.QuoteIdentifier(schema)
	if _, err := conn.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+ident); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SET search_path TO `+ident); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("set search_path: %w", err)
	}

	sourceDriver, err := iofs.New(files, ".")
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithConnection(ctx, conn, &postgres.Config{SchemaName: schema})
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, func() { _, _ = m.Close() }, nil
}
