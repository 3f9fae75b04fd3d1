package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"hub/cmd/internal/auth/events"
	"hub/cmd/security/token"
)

// Service implements the high-level session operations.
type Service struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
	hasher token.Hasher
	events events.Publisher
	log    *slog.Logger
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	SessionID    string
	UserID       string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

type Option func(*Service)

// WithHasher sets the refresh-token hasher (default: unkeyed SHA-256).
func WithHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithEvents sets where session changes are published.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(cfg Config, store Store, tokens AccessTokenManager, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		events: events.NoopPublisher{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) refreshTTL(dev DeviceContext) time.Duration {
	switch dev.Platform {
	case PlatformWeb:
		return s.cfg.RefreshTTLWeb
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		if dev.RememberMe {
			return s.cfg.RefreshTTLNative
		}
		return s.cfg.RefreshTTLNativeShort
	default:
		return s.cfg.RefreshTTLWeb
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("auth.event.publish_fail",
			"user_id", ev.UserID,
			"reason", string(ev.Reason),
			"err", err,
		)
	}
}

// IssueSession creates a session for userID and returns fresh tokens.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes, s.hasher)
	if err != nil {
		return Issued{}, err
	}
	refreshExp := now.Add(s.refreshTTL(dev))

	sessionID, err := s.store.Create(ctx, now, userID, dev, refreshHash, refreshExp)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(userID, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	s.publish(ctx, events.Event{
		UserID:    userID,
		SessionID: sessionID,
		Session:   &events.SessionInfo{UserID: userID, SessionID: sessionID, ExpiresAt: refreshExp},
		Reason:    events.ReasonLogin,
		At:        now,
	})

	return Issued{
		SessionID:    sessionID,
		UserID:       userID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// ParseAccessToken verifies an access token's signature and claims without
// consulting the store.
func (s *Service) ParseAccessToken(tok string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tok, now)
}

// ValidateAccessToken verifies an access token and checks that the backing
// session is still active, so revocations take effect before token expiry.
func (s *Service) ValidateAccessToken(ctx context.Context, tok string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(tok, now)
	if err != nil {
		return AccessClaims{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}

	if row.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if err := row.Usable(now); err != nil {
		return AccessClaims{}, err
	}

	return claims, nil
}

// CheckSession reports whether sessionID of userID is active at now.
func (s *Service) CheckSession(ctx context.Context, userID, sessionID string, now time.Time) (Row, error) {
	row, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return Row{}, err
	}
	if row.UserID != userID {
		return Row{}, ErrSessionNotFound
	}
	if err := row.Usable(now); err != nil {
		return Row{}, err
	}
	return row, nil
}

// RevokeSession revokes a single session (logout from one device).
// Revoking an already revoked session is a no-op.
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) error {
	row, err := s.store.GetByID(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.Revoke(ctx, now, sessionID, "logout"); err != nil {
		return err
	}
	if row.RevokedAt == nil {
		s.publish(ctx, events.Event{
			UserID:    row.UserID,
			SessionID: sessionID,
			Reason:    events.ReasonLogout,
			At:        now,
		})
	}
	return nil
}

// RevokeAll revokes all sessions for a user (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	if err := s.store.RevokeAll(ctx, now, userID, "logout_all"); err != nil {
		return err
	}
	s.publish(ctx, events.Event{UserID: userID, Reason: events.ReasonLogoutAll, At: now})
	return nil
}

// TouchSession updates last_used_at (best-effort).
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}

// ExpireDue revokes sessions whose refresh window has closed and publishes
// an expired event for each. It returns how many sessions it expired.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.store.RevokeExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		s.publish(ctx, events.Event{
			UserID:    r.UserID,
			SessionID: r.ID,
			Reason:    events.ReasonExpired,
			At:        now,
		})
	}
	return len(rows), nil
}

// RotateRefresh exchanges a refresh token for a new session.
//
// The row is locked for the duration of the transaction. Presenting a token
// whose session was already rotated is treated as theft: every session of
// the user is revoked and ErrRefreshReuseDetected is returned.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, refreshTokenPlain string, dev DeviceContext) (Issued, error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return Issued{}, ErrSessionNotFound
	}
	refreshHash := s.hasher.Hash(refreshTokenPlain)

	var (
		out    Issued
		oldID  string
		userID string
		reused bool
	)
	err := s.store.InTx(ctx, func(tx Store) error {
		row, err := tx.GetByRefreshHashForUpdate(ctx, refreshHash)
		if err != nil {
			return err
		}
		userID = row.UserID

		if !row.ExpiresAt.After(now) {
			return ErrSessionExpired
		}

		if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
			reused = true
			return tx.RevokeAll(ctx, now, row.UserID, "reuse_detected")
		}
		if row.RevokedAt != nil {
			return ErrSessionRevoked
		}

		if s.cfg.RefreshMinInterval > 0 {
			if age := now.Sub(row.CreatedAt); age < s.cfg.RefreshMinInterval {
				return RefreshRateLimitError{SessionID: row.ID, RetryAfter: s.cfg.RefreshMinInterval - age}
			}
		}

		newPlain, newHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes, s.hasher)
		if err != nil {
			return err
		}
		newExp := now.Add(s.refreshTTL(dev))

		newID, err := tx.Create(ctx, now, row.UserID, dev, newHash, newExp)
		if err != nil {
			return err
		}
		if err := tx.MarkRotated(ctx, now, row.ID, newID); err != nil {
			return err
		}

		accessToken, accessExp, err := s.tokens.Issue(row.UserID, newID, now)
		if err != nil {
			return err
		}

		oldID = row.ID
		out = Issued{
			SessionID:    newID,
			UserID:       row.UserID,
			AccessToken:  accessToken,
			AccessExp:    accessExp,
			RefreshToken: newPlain,
			RefreshExp:   newExp,
		}
		return nil
	})
	if err != nil {
		return Issued{}, err
	}

	if reused {
		s.log.Warn("auth.refresh.reuse_detected", "user_id", userID)
		s.publish(ctx, events.Event{UserID: userID, Reason: events.ReasonReuseDetected, At: now})
		return Issued{}, ErrRefreshReuseDetected
	}

	s.publish(ctx, events.Event{
		UserID:    out.UserID,
		SessionID: oldID,
		Session:   &events.SessionInfo{UserID: out.UserID, SessionID: out.SessionID, ExpiresAt: out.RefreshExp},
		Reason:    events.ReasonRefresh,
		At:        now,
	})
	return out, nil
}
