package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hub/cmd/identity"
	"hub/cmd/identity/ids"
	"hub/cmd/security/token"
)

const (
	defaultTokenBytes = 32
	defaultTTL        = 7 * 24 * time.Hour
	maxTTL            = 30 * 24 * time.Hour
	maxNoteLen        = 512
	maxUsesLimit      = 100
)

// CreateInput describes invite creation.
type CreateInput struct {
	CreatedBy *string
	Role      identity.Role
	TTL       time.Duration
	MaxUses   int
	Note      *string
}

// CreateUserFunc creates the account that redeems an invite and returns its id.
type CreateUserFunc func(ctx context.Context, role identity.Role) (string, error)

// Service manages invite creation, validation, redemption and revocation.
type Service struct {
	store      Store
	hasher     token.Hasher
	tokenBytes int
	now        func() time.Time
	log        *slog.Logger
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated invite tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// WithHasher sets how invite tokens are hashed at rest (default SHA-256).
func WithHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:      store,
		tokenBytes: defaultTokenBytes,
		now:        time.Now,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateInvite creates a new invite and returns it with its plain token.
// The token is only ever available here.
func (s *Service) CreateInvite(ctx context.Context, in CreateInput) (Invite, string, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}

	now := s.now().UTC()
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl > maxTTL {
		return Invite{}, "", fmt.Errorf("%w: ttl exceeds %s", ErrInvalidInput, maxTTL)
	}
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	if maxUses > maxUsesLimit {
		return Invite{}, "", fmt.Errorf("%w: max_uses exceeds %d", ErrInvalidInput, maxUsesLimit)
	}
	role := in.Role
	if role == "" {
		role = identity.RoleMember
	}
	// Ownership is never handed out through a link.
	if !role.Valid() || role == identity.RoleOwner {
		return Invite{}, "", fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	note := trimPtr(in.Note)
	if note != nil && len(*note) > maxNoteLen {
		return Invite{}, "", fmt.Errorf("%w: note too long", ErrInvalidInput)
	}

	plain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Invite{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.store.Create(ctx, CreateRecord{
		ID:        id,
		TokenHash: s.hasher.Hash(plain),
		Role:      role,
		CreatedBy: trimPtr(in.CreatedBy),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		MaxUses:   maxUses,
		Note:      note,
	})
	if err != nil {
		return Invite{}, "", err
	}
	s.log.Info("invite.create", "invite_id", inv.ID, "role", inv.Role, "max_uses", inv.MaxUses, "expires_at", inv.ExpiresAt)
	return inv, plain, nil
}

// ValidateInvite checks whether a token is valid and active now. An unknown
// token is reported as inactive, not as an error.
func (s *Service) ValidateInvite(ctx context.Context, plain string) (bool, Invite, error) {
	if err := ctx.Err(); err != nil {
		return false, Invite{}, err
	}
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return false, Invite{}, ErrInvalidInput
	}

	inv, err := s.store.GetByTokenHash(ctx, s.hasher.Hash(plain))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Invite{}, nil
		}
		return false, Invite{}, err
	}
	return inv.Active(s.now().UTC()), inv, nil
}

// Redeem claims one use of the invite, runs create with the invite's role and
// records the new user as consumer. When create fails the claimed use is
// handed back and create's error is returned unchanged.
func (s *Service) Redeem(ctx context.Context, plain string, create CreateUserFunc) (Invite, string, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}
	plain = strings.TrimSpace(plain)
	if plain == "" || create == nil {
		return Invite{}, "", ErrInvalidInput
	}

	now := s.now().UTC()
	reserved, err := s.store.Reserve(ctx, s.hasher.Hash(plain), now)
	if err != nil {
		return Invite{}, "", err
	}

	userID, err := create(ctx, reserved.Role)
	if err != nil {
		if relErr := s.store.Release(context.WithoutCancel(ctx), reserved.ID); relErr != nil {
			s.log.Error("invite.release.fail", "invite_id", reserved.ID, "err", relErr)
		}
		return Invite{}, "", err
	}

	inv, err := s.store.AttachConsumer(ctx, reserved.ID, userID, now)
	if err != nil {
		return Invite{}, "", fmt.Errorf("attach consumer: %w", err)
	}
	s.log.Info("invite.redeem", "invite_id", inv.ID, "user_id", userID, "used", inv.UsedCount, "max_uses", inv.MaxUses)
	return inv, userID, nil
}

// Revoke deactivates an invite. Revoking twice is not an error.
func (s *Service) Revoke(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	if err := s.store.Revoke(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("invite.revoke", "invite_id", id)
	return nil
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
