// Package pgtest provisions migrated throwaway schemas for Postgres
// integration tests. Tests are opt-in via HUB_DATABASE_URL.
package pgtest

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"hub/cmd/identity/ids"
	"hub/cmd/internal/migrations"
)

const EnvDatabaseURL = "HUB_DATABASE_URL"

// DB is a migrated schema reachable through both pgx and database/sql.
type DB struct {
	Pool   *pgxpool.Pool
	SQL    *sql.DB
	Schema string
}

// New skips the test when HUB_DATABASE_URL is unset (or Postgres is
// unreachable outside CI), otherwise returns a freshly migrated schema that
// is dropped on cleanup.
func New(t *testing.T) *DB {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	sqlDB, err := sql.Open("postgres", raw)
	if err != nil {
		pool.Close()
		t.Fatalf("open database/sql: %v", err)
	}

	schema := "hub_it_" + strings.ToLower(ids.MustULID(time.Now()))
	if err := migrations.Up(ctx, sqlDB, schema); err != nil {
		_ = sqlDB.Close()
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		_ = sqlDB.Close()
		pool.Close()
	})

	return &DB{Pool: pool, SQL: sqlDB, Schema: schema}
}

func shouldSkip(err error) bool {
	if strings.TrimSpace(os.Getenv("CI")) != "" {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout")
}
