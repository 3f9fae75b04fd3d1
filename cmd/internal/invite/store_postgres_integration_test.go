package invite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hub/cmd/identity"
	"hub/cmd/internal/pgtest"
)

func newPostgresFixture(t *testing.T) (*Service, *identity.PostgresStore) {
	t.Helper()
	db := pgtest.New(t)
	store, err := NewPostgresStore(db.Pool, WithSchema(db.Schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	users, err := identity.NewPostgresStore(db.Pool, identity.WithSchema(db.Schema))
	if err != nil {
		t.Fatalf("new user store: %v", err)
	}
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, users
}

func createUserIn(users *identity.PostgresStore, email string) CreateUserFunc {
	return func(ctx context.Context, role identity.Role) (string, error) {
		u, err := users.CreateUser(ctx, identity.CreateUserInput{
			Email:        email,
			DisplayName:  email,
			Role:         role,
			PasswordHash: "$argon2id$placeholder",
			Now:          time.Now().UTC(),
		})
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
}

func TestPostgresStore_RedeemFlow(t *testing.T) {
	svc, users := newPostgresFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	created, plain, err := svc.CreateInvite(ctx, CreateInput{Role: identity.RoleAdmin, MaxUses: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	inv, userID, err := svc.Redeem(ctx, plain, createUserIn(users, "ana@marquente.dev"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if inv.ID != created.ID || inv.UsedCount != 1 || inv.ConsumedBy == nil || *inv.ConsumedBy != userID {
		t.Fatalf("unexpected invite after redeem: %+v", inv)
	}
	u, err := users.GetUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Role != identity.RoleAdmin {
		t.Fatalf("role=%q", u.Role)
	}

	// Same email again: user creation fails and the use is handed back.
	if _, _, err := svc.Redeem(ctx, plain, createUserIn(users, "ana@marquente.dev")); !identity.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, again, err := svc.ValidateInvite(ctx, plain)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if again.UsedCount != 1 {
		t.Fatalf("used=%d after failed redeem", again.UsedCount)
	}

	if err := svc.Revoke(ctx, created.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := svc.Redeem(ctx, plain, createUserIn(users, "bia@marquente.dev")); !errors.Is(err, ErrNotActive) {
		t.Fatalf("redeem revoked err=%v", err)
	}
	if _, _, err := svc.Redeem(ctx, "unknown-token", createUserIn(users, "cai@marquente.dev")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("redeem unknown err=%v", err)
	}
}

func TestPostgresStore_ConcurrentRedeemMaxUses(t *testing.T) {
	svc, users := newPostgresFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, plain, err := svc.CreateInvite(ctx, CreateInput{MaxUses: 2})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	const attempts = 5
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.Redeem(ctx, plain, createUserIn(users, fmt.Sprintf("user%d@marquente.dev", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrNotActive) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 2 {
		t.Fatalf("expected 2 successes, got %d", success)
	}
}
