package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"hub/cmd/identity"
	"hub/cmd/internal/auth/session"
	"hub/cmd/internal/board"
	boardpg "hub/cmd/internal/board/postgres"
	"hub/cmd/internal/invite"
	"hub/cmd/internal/migrations"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// stores bundles the persistence of every service. pool and sqlDB are nil
// in memory mode.
type stores struct {
	users    identity.Store
	sessions session.Store
	invites  invite.Store
	board    board.Store

	pool  *pgxpool.Pool
	sqlDB *sql.DB
}

func (s *stores) dbEnabled() bool { return s.pool != nil }

// ping checks both database handles.
func (s *stores) ping(ctx context.Context) error {
	if !s.dbEnabled() {
		return nil
	}
	if err := PingDB(ctx, s.pool, 2*time.Second); err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.sqlDB.PingContext(pctx)
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlDB != nil {
		_ = s.sqlDB.Close()
	}
}

// openStores picks Postgres when a database is configured and in-memory
// stores otherwise. The identity, session and invite stores share a pgx
// pool; the board store and migrations run on database/sql with lib/pq.
func openStores(ctx context.Context, cfg Config, log *slog.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		if !cfg.DevMode {
			return nil, errors.New("no database configured")
		}
		log.Warn("store.memory", "reason", "HUB_DATABASE_URL not set; data is lost on restart")
		return &stores{
			users:    identity.NewMemoryStore(),
			sessions: session.NewMemoryStore(),
			invites:  invite.NewMemoryStore(),
			board:    board.NewMemoryStore(),
		}, nil
	}

	sqlDB, err := boardpg.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	st := &stores{sqlDB: sqlDB}

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, sqlDB, cfg.DBSchema); err != nil {
			st.Close()
			return nil, err
		}
		log.Info("db.migrate.done", "schema", cfg.DBSchema)
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	st.pool = pool

	if st.users, err = identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema)); err != nil {
		st.Close()
		return nil, err
	}
	st.sessions = session.NewPostgresStore(pool, cfg.DBSchema)
	if st.invites, err = invite.NewPostgresStore(pool, invite.WithSchema(cfg.DBSchema)); err != nil {
		st.Close()
		return nil, err
	}
	if st.board, err = boardpg.New(sqlDB, cfg.DBSchema); err != nil {
		st.Close()
		return nil, err
	}

	log.Info("store.postgres", "schema", cfg.DBSchema, "max_conns", cfg.DBMaxConns)
	return st, nil
}
