package session

import (
	"context"
	"net"
	"time"
)

// Platform represents the client platform associated with a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps client input to a Platform, defaulting to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(s); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return p
	}
	return PlatformUnknown
}

// DeviceContext describes the client device that owns a session.
type DeviceContext struct {
	Platform   Platform
	RememberMe bool
	UserAgent  string
	IP         net.IP
}

// Row mirrors a hub.sessions row.
type Row struct {
	ID                  string
	UserID              string
	RefreshTokenHash    string
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
	Platform            Platform
}

// Usable reports why the row cannot back a request at now: ErrSessionRevoked
// for revoked or rotated rows, ErrSessionExpired past expiry, nil otherwise.
func (r Row) Usable(now time.Time) error {
	if r.RevokedAt != nil || r.ReplacedBySessionID != nil {
		return ErrSessionRevoked
	}
	if !r.ExpiresAt.After(now) {
		return ErrSessionExpired
	}
	return nil
}

// Store abstracts persistence for session state.
type Store interface {
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (sessionID string, err error)
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// GetByRefreshHashForUpdate loads a row by refresh hash. Inside InTx the
	// row stays locked until the transaction ends.
	GetByRefreshHashForUpdate(ctx context.Context, refreshHash string) (Row, error)

	// MarkRotated revokes sessionID and links it to replacedBy.
	MarkRotated(ctx context.Context, now time.Time, sessionID, replacedBy string) error
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke and RevokeAll are idempotent; the first reason sticks.
	Revoke(ctx context.Context, now time.Time, sessionID, reason string) error
	RevokeAll(ctx context.Context, now time.Time, userID, reason string) error

	// RevokeExpired revokes every unrevoked session whose expiry is at or
	// before now and returns the rows it revoked.
	RevokeExpired(ctx context.Context, now time.Time) ([]Row, error)

	// InTx runs fn against a transactional view of the store. fn's error
	// rolls the transaction back; nil commits.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
