package invite

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps invites in process for dev mode and tests.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Invite
	byHash map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Invite),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byHash[in.TokenHash]; taken {
		return Invite{}, ErrInvalidInput
	}
	if _, taken := s.byID[in.ID]; taken {
		return Invite{}, ErrInvalidInput
	}
	inv := &Invite{
		ID:        in.ID,
		Role:      in.Role,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
		MaxUses:   in.MaxUses,
		Note:      in.Note,
	}
	s.byID[in.ID] = inv
	s.byHash[in.TokenHash] = in.ID
	return *inv, nil
}

func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *MemoryStore) Reserve(ctx context.Context, tokenHash string, now time.Time) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	inv := s.byID[id]
	if !inv.Active(now) {
		return Invite{}, ErrNotActive
	}
	inv.UsedCount++
	return *inv, nil
}

func (s *MemoryStore) Release(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if inv.UsedCount > 0 {
		inv.UsedCount--
	}
	return nil
}

func (s *MemoryStore) AttachConsumer(ctx context.Context, id, userID string, now time.Time) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byID[id]
	if !ok {
		return Invite{}, ErrNotFound
	}
	at := now.UTC()
	inv.ConsumedAt = &at
	inv.ConsumedBy = &userID
	return *inv, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if inv.RevokedAt == nil {
		at := now.UTC()
		inv.RevokedAt = &at
	}
	return nil
}
