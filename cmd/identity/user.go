package identity

import (
	"context"
	"strings"
	"time"
)

// Role is the team role of a user on the hub.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanInvite reports whether the role may create team invites.
func (r Role) CanInvite() bool { return r == RoleOwner || r == RoleAdmin }

type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// UserAuth is a user together with its stored password hash.
// It never leaves the identity and auth layers.
type UserAuth struct {
	User
	PasswordHash string
}

// CreateUserInput carries an already-hashed credential.
type CreateUserInput struct {
	Email        string
	DisplayName  string
	Role         Role
	PasswordHash string
	Now          time.Time
}

// Store persists users.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
	TouchLogin(ctx context.Context, userID string, at time.Time) error
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateCreate(op string, in *CreateUserInput) error {
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if in.Email == "" || !strings.Contains(in.Email, "@") || len(in.Email) > 320 {
		return invalid(op, "email")
	}
	if len(in.DisplayName) > 120 {
		return invalid(op, "display_name too long")
	}
	if in.DisplayName == "" {
		in.DisplayName = strings.SplitN(in.Email, "@", 2)[0]
	}
	if in.Role == "" {
		in.Role = RoleMember
	}
	if !in.Role.Valid() {
		return invalid(op, "role")
	}
	if in.PasswordHash == "" {
		return invalid(op, "password_hash")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return nil
}
