package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"hub/cmd/security/password"
)

func testPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewService(st, testPasswordConfig(), WithClock(func() time.Time { return now })), st
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	u, err := svc.Register(ctx, RegisterInput{Email: "  Ana@MarQuente.dev ", Password: "correct horse battery"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Role != RoleMember {
		t.Fatalf("role=%q, want member", u.Role)
	}
	if u.DisplayName != "Ana" {
		t.Fatalf("display_name=%q, want derived from email", u.DisplayName)
	}

	got, err := svc.Authenticate(ctx, "ana@marquente.dev", "correct horse battery")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("id=%q, want %q", got.ID, u.ID)
	}
	if got.LastLoginAt == nil {
		t.Fatalf("expected last_login_at to be set")
	}
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Register(ctx, RegisterInput{Email: "bea@marquente.dev", Password: "a perfectly fine pass"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	cases := []struct {
		name, email, pw string
	}{
		{"wrong password", "bea@marquente.dev", "not the password"},
		{"unknown email", "nobody@marquente.dev", "a perfectly fine pass"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, tc.email, tc.pw)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err=%v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Register(ctx, RegisterInput{Email: "caio@marquente.dev", Password: "first password ok"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Email: "CAIO@marquente.dev", Password: "second password ok"})
	if !IsConflict(err) {
		t.Fatalf("err=%v, want conflict", err)
	}
}

func TestRegister_RejectsWeakPassword(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(context.Background(), RegisterInput{Email: "d@marquente.dev", Password: "123"})
	if !IsInvalidInput(err) {
		t.Fatalf("err=%v, want invalid input", err)
	}
}

func TestAuthenticate_UpgradesWeakHash(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	weak := testPasswordConfig()
	weak.Params.Iterations = 1
	h, err := weak.Hash("upgrade me please")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	u, err := st.CreateUser(ctx, CreateUserInput{Email: "e@marquente.dev", PasswordHash: h})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	strong := testPasswordConfig()
	strong.Params.Iterations = 2
	svc := NewService(st, strong)

	if _, err := svc.Authenticate(ctx, "e@marquente.dev", "upgrade me please"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	ua, err := st.GetUserAuthByEmail(ctx, "e@marquente.dev")
	if err != nil {
		t.Fatalf("GetUserAuthByEmail: %v", err)
	}
	if ua.ID != u.ID || ua.PasswordHash == h {
		t.Fatalf("expected password hash to be upgraded")
	}
	if strong.NeedsRehash(ua.PasswordHash) {
		t.Fatalf("upgraded hash still needs rehash")
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	st := NewMemoryStore()
	if _, err := st.GetUserByID(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
	if err := st.TouchLogin(context.Background(), "missing", time.Now()); !IsNotFound(err) {
		t.Fatalf("err=%v, want not found", err)
	}
}
