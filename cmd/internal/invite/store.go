package invite

import (
	"context"
	"time"

	"hub/cmd/identity"
)

// CreateRecord is a normalized invite insert payload.
type CreateRecord struct {
	ID        string
	TokenHash string
	Role      identity.Role
	CreatedBy *string
	CreatedAt time.Time
	ExpiresAt time.Time
	MaxUses   int
	Note      *string
}

// Store is the persistence boundary for invites.
//
// Redemption is split in two steps so that the use counter never exceeds
// max_uses under concurrency: Reserve claims a use while the invite is
// active, the caller creates the user, then AttachConsumer records who used
// it. Release hands a reserved use back when user creation fails.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error)
	Reserve(ctx context.Context, tokenHash string, now time.Time) (Invite, error)
	Release(ctx context.Context, id string) error
	AttachConsumer(ctx context.Context, id, userID string, now time.Time) (Invite, error)
	Revoke(ctx context.Context, id string, now time.Time) error
}
