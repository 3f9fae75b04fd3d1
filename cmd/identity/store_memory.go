package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"hub/cmd/identity/ids"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]UserAuth
	byEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]UserAuth),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"
	if err := validateCreate(op, &in); err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	norm := NormalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[norm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	now := in.Now.UTC()
	u := UserAuth{
		User: User{
			ID:          id,
			Email:       in.Email,
			DisplayName: in.DisplayName,
			Role:        in.Role,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		PasswordHash: in.PasswordHash,
	}
	s.byID[id] = u
	s.byEmail[norm] = id
	return u.User, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return u.User, nil
}

func (s *MemoryStore) GetUserAuthByEmail(_ context.Context, email string) (UserAuth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return UserAuth{}, NotFoundError{Op: "identity.GetUserAuthByEmail", Resource: "user"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u.User)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdatePasswordHash(_ context.Context, userID, hash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return NotFoundError{Op: "identity.UpdatePasswordHash", Resource: "user"}
	}
	u.PasswordHash = hash
	u.UpdatedAt = now.UTC()
	s.byID[userID] = u
	return nil
}

func (s *MemoryStore) TouchLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return NotFoundError{Op: "identity.TouchLogin", Resource: "user"}
	}
	t := at.UTC()
	u.LastLoginAt = &t
	s.byID[userID] = u
	return nil
}
