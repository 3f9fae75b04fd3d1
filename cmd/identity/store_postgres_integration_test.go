package identity

import (
	"context"
	"testing"
	"time"

	"hub/cmd/internal/pgtest"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	db := pgtest.New(t)
	s, err := NewPostgresStore(db.Pool, WithSchema(db.Schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestPostgresStore_CreateAndLookup(t *testing.T) {
	s := newPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Email:        "Lia@MarQuente.dev",
		DisplayName:  "Lia",
		Role:         RoleAdmin,
		PasswordHash: "$argon2id$placeholder",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ua, err := s.GetUserAuthByEmail(ctx, "lia@marquente.dev")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if ua.ID != u.ID || ua.Role != RoleAdmin || ua.PasswordHash != "$argon2id$placeholder" {
		t.Fatalf("unexpected row: %+v", ua)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := s.TouchLogin(ctx, u.ID, now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(now) {
		t.Fatalf("last_login_at=%v, want %v", got.LastLoginAt, now)
	}
}

func TestPostgresStore_EmailConflictCaseInsensitive(t *testing.T) {
	s := newPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	in := CreateUserInput{Email: "dup@marquente.dev", PasswordHash: "h"}
	if _, err := s.CreateUser(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}
	in.Email = "DUP@marquente.dev"
	_, err := s.CreateUser(ctx, in)
	if !IsConflict(err) {
		t.Fatalf("err=%v, want conflict", err)
	}
}

func TestPostgresStore_MissingUser(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	if _, err := s.GetUserByID(ctx, "01JZZZZZZZZZZZZZZZZZZZZZZZ"); !IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
	if err := s.UpdatePasswordHash(ctx, "01JZZZZZZZZZZZZZZZZZZZZZZZ", "h", time.Now()); !IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
}
