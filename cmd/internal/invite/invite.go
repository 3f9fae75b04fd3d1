package invite

import (
	"time"

	"hub/cmd/identity"
)

// Invite represents an invite row. The plain token is never stored.
type Invite struct {
	ID         string        `json:"id"`
	Role       identity.Role `json:"role"`
	CreatedBy  *string       `json:"created_by,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	MaxUses    int           `json:"max_uses"`
	UsedCount  int           `json:"used_count"`
	RevokedAt  *time.Time    `json:"revoked_at,omitempty"`
	Note       *string       `json:"note,omitempty"`
	ConsumedAt *time.Time    `json:"consumed_at,omitempty"`
	ConsumedBy *string       `json:"consumed_by,omitempty"`
}

// Active reports whether the invite can still be redeemed at now.
func (i Invite) Active(now time.Time) bool {
	if i.RevokedAt != nil {
		return false
	}
	if !i.ExpiresAt.After(now) {
		return false
	}
	return i.UsedCount < i.MaxUses
}
