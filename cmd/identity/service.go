package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"hub/cmd/security/password"
)

// Service applies password policy and credential checks on top of a Store.
type Service struct {
	store Store
	pw    password.Config
	dummy string
	now   func() time.Time
	log   *slog.Logger
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(store Store, pw password.Config, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		pw:    pw,
		now:   func() time.Time { return time.Now().UTC() },
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummy = pw.DummyHash()
	return s
}

// RegisterInput is the plaintext form of a new account.
type RegisterInput struct {
	Email       string
	DisplayName string
	Role        Role
	Password    string
}

// Register validates the password, hashes it and creates the user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	const op = "identity.Register"
	if strings.TrimSpace(in.Email) == "" {
		return User{}, invalid(op, "email")
	}
	hash, err := s.pw.Hash(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}
	return s.store.CreateUser(ctx, CreateUserInput{
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		Role:         in.Role,
		PasswordHash: hash,
		Now:          s.now(),
	})
}

// Authenticate checks email/password. Unknown accounts and wrong passwords
// both yield ErrInvalidCredentials after a full argon2id verification.
func (s *Service) Authenticate(ctx context.Context, email, plain string) (User, error) {
	const op = "identity.Authenticate"

	ua, err := s.store.GetUserAuthByEmail(ctx, email)
	if err != nil {
		if !IsNotFound(err) {
			return User{}, err
		}
		_, _ = s.pw.Verify(s.dummy, plain)
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ok, err := s.pw.Verify(ua.PasswordHash, plain)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return User{}, err
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	now := s.now()
	if s.pw.NeedsRehash(ua.PasswordHash) {
		if h, herr := s.pw.Hash(plain); herr == nil {
			if uerr := s.store.UpdatePasswordHash(ctx, ua.ID, h, now); uerr != nil {
				s.log.Warn("identity.rehash.fail", "user_id", ua.ID, "err", uerr)
			}
		}
	}
	if err := s.store.TouchLogin(ctx, ua.ID, now); err != nil {
		s.log.Warn("identity.touch_login.fail", "user_id", ua.ID, "err", err)
	} else {
		t := now.UTC()
		ua.LastLoginAt = &t
	}
	return ua.User, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.store.GetUserByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}
