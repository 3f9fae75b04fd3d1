package invite

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hub/cmd/identity"
)

// PostgresStore persists invites in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by the store (default: "hub").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !schemaRe.MatchString(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "hub"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

const inviteColumns = `id, role, created_by, created_at, expires_at, max_uses, used_count, revoked_at, note, consumed_at, consumed_by`

func (s *PostgresStore) invites() string { return pgx.Identifier{s.schema, "invites"}.Sanitize() }

// Create inserts a new invite record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.invites()+` (id, token_hash, role, created_by, created_at, expires_at, max_uses, used_count, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		 RETURNING `+inviteColumns,
		in.ID,
		in.TokenHash,
		string(in.Role),
		in.CreatedBy,
		in.CreatedAt.UTC(),
		in.ExpiresAt.UTC(),
		in.MaxUses,
		in.Note,
	)
	return scanInvite(row)
}

// GetByTokenHash fetches an invite by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM `+s.invites()+` WHERE token_hash = $1`,
		tokenHash,
	)
	return scanInvite(row)
}

// Reserve claims one use in a single conditional UPDATE so concurrent
// redemptions can never exceed max_uses.
func (s *PostgresStore) Reserve(ctx context.Context, tokenHash string, now time.Time) (Invite, error) {
	if strings.TrimSpace(tokenHash) == "" {
		return Invite{}, ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.invites()+`
		    SET used_count = used_count + 1
		  WHERE token_hash = $1
		    AND revoked_at IS NULL
		    AND expires_at > $2
		    AND used_count < max_uses
		RETURNING `+inviteColumns,
		tokenHash,
		now.UTC(),
	)
	inv, err := scanInvite(row)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Invite{}, err
	}

	// Distinguish not-found vs not-active.
	if _, selErr := s.GetByTokenHash(ctx, tokenHash); selErr != nil {
		return Invite{}, selErr
	}
	return Invite{}, ErrNotActive
}

func (s *PostgresStore) Release(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.invites()+` SET used_count = used_count - 1 WHERE id = $1 AND used_count > 0`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AttachConsumer(ctx context.Context, id, userID string, now time.Time) (Invite, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.invites()+`
		    SET consumed_at = $2, consumed_by = $3
		  WHERE id = $1
		RETURNING `+inviteColumns,
		id,
		now.UTC(),
		userID,
	)
	return scanInvite(row)
}

func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.invites()+` SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`,
		id,
		now.UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInvite(row pgx.Row) (Invite, error) {
	var (
		out  Invite
		role string
	)
	err := row.Scan(
		&out.ID,
		&role,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.MaxUses,
		&out.UsedCount,
		&out.RevokedAt,
		&out.Note,
		&out.ConsumedAt,
		&out.ConsumedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, err
	}
	out.Role = identity.Role(role)
	return out, nil
}
