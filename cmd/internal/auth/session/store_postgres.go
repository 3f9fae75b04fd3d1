package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hub/cmd/identity/ids"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on <schema>.sessions.
type PostgresStore struct {
	pool  *pgxpool.Pool
	db    querier
	table string
	inTx  bool
}

// NewPostgresStore creates a Postgres-backed session store. An empty schema
// means "hub".
func NewPostgresStore(pool *pgxpool.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = "hub"
	}
	return &PostgresStore{
		pool:  pool,
		db:    pool,
		table: pgx.Identifier{schema, "sessions"}.Sanitize(),
	}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresStore{pool: s.pool, db: tx, table: s.table, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO `+s.table+` (
			id, user_id, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, user_agent, ip, platform, revocation_reason
		) VALUES (
			$1, $2, $3,
			$4, $4, $5, NULL,
			NULL, $6, $7, $8, NULL
		)
	`, id, userID, refreshHash, now, expiresAt, nullIfEmpty(dev.UserAgent), ipOrNil(dev), string(dev.Platform))
	if err != nil {
		return "", fmt.Errorf("session.Create: %w", err)
	}
	return id, nil
}

const rowColumns = `id, user_id, refresh_token_hash,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, platform`

func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	return scanRow(s.db.QueryRow(ctx, `SELECT `+rowColumns+` FROM `+s.table+` WHERE id = $1`, sessionID))
}

func (s *PostgresStore) GetByRefreshHashForUpdate(ctx context.Context, refreshHash string) (Row, error) {
	q := `SELECT ` + rowColumns + ` FROM ` + s.table + ` WHERE refresh_token_hash = $1`
	if s.inTx {
		q += ` FOR UPDATE`
	}
	return scanRow(s.db.QueryRow(ctx, q, refreshHash))
}

func (s *PostgresStore) MarkRotated(ctx context.Context, now time.Time, sessionID, replacedBy string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_session_id = $3,
			revocation_reason = 'rotation'
		WHERE id = $1
	`, sessionID, now, replacedBy)
	return err
}

func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.db.Exec(ctx, `UPDATE `+s.table+` SET last_used_at = $2 WHERE id = $1`, sessionID, now)
	return err
}

func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE `+s.table+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1
	`, userID, now, reason)
	return err
}

func (s *PostgresStore) RevokeExpired(ctx context.Context, now time.Time) ([]Row, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE `+s.table+`
		SET revoked_at = $1,
		    revocation_reason = 'expired'
		WHERE revoked_at IS NULL AND expires_at <= $1
		RETURNING `+rowColumns, now)
	if err != nil {
		return nil, fmt.Errorf("session.RevokeExpired: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.RefreshTokenHash,
		&r.CreatedAt,
		&r.LastUsedAt,
		&r.ExpiresAt,
		&r.RevokedAt,
		&r.ReplacedBySessionID,
		&r.Platform,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ipOrNil(dev DeviceContext) any {
	if dev.IP == nil {
		return nil
	}
	return dev.IP
}
