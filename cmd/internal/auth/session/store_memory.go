package session

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"hub/cmd/identity/ids"
)

// MemoryStore keeps sessions in process. InTx serializes against every
// other call and restores the previous rows when fn fails.
type MemoryStore struct {
	mu sync.Mutex
	st memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: memState{rows: make(map[string]Row)}}
}

func (m *MemoryStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Create(ctx, now, userID, dev, refreshHash, expiresAt)
}

func (m *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetByID(ctx, sessionID)
}

func (m *MemoryStore) GetByRefreshHashForUpdate(ctx context.Context, refreshHash string) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetByRefreshHashForUpdate(ctx, refreshHash)
}

func (m *MemoryStore) MarkRotated(ctx context.Context, now time.Time, sessionID, replacedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.MarkRotated(ctx, now, sessionID, replacedBy)
}

func (m *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Touch(ctx, now, sessionID)
}

func (m *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Revoke(ctx, now, sessionID, reason)
}

func (m *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RevokeAll(ctx, now, userID, reason)
}

func (m *MemoryStore) RevokeExpired(ctx context.Context, now time.Time) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RevokeExpired(ctx, now)
}

func (m *MemoryStore) InTx(_ context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := maps.Clone(m.st.rows)
	if err := fn(&m.st); err != nil {
		m.st.rows = saved
		return err
	}
	return nil
}

// memState is the unlocked store; callers hold MemoryStore.mu.
// Rows are replaced wholesale so a cloned map is a full snapshot.
type memState struct {
	rows map[string]Row
}

func (s *memState) Create(_ context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}
	used := now
	s.rows[id] = Row{
		ID:               id,
		UserID:           userID,
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		LastUsedAt:       &used,
		ExpiresAt:        expiresAt,
		Platform:         dev.Platform,
	}
	return id, nil
}

func (s *memState) GetByID(_ context.Context, sessionID string) (Row, error) {
	r, ok := s.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return r, nil
}

func (s *memState) GetByRefreshHashForUpdate(_ context.Context, refreshHash string) (Row, error) {
	for _, r := range s.rows {
		if r.RefreshTokenHash == refreshHash {
			return r, nil
		}
	}
	return Row{}, ErrSessionNotFound
}

func (s *memState) MarkRotated(_ context.Context, now time.Time, sessionID, replacedBy string) error {
	r, ok := s.rows[sessionID]
	if !ok {
		return nil
	}
	t, next := now, replacedBy
	r.LastUsedAt = &t
	r.RevokedAt = &t
	r.ReplacedBySessionID = &next
	s.rows[sessionID] = r
	return nil
}

func (s *memState) Touch(_ context.Context, now time.Time, sessionID string) error {
	r, ok := s.rows[sessionID]
	if !ok {
		return nil
	}
	t := now
	r.LastUsedAt = &t
	s.rows[sessionID] = r
	return nil
}

func (s *memState) Revoke(_ context.Context, now time.Time, sessionID, _ string) error {
	r, ok := s.rows[sessionID]
	if !ok || r.RevokedAt != nil {
		return nil
	}
	t := now
	r.RevokedAt = &t
	s.rows[sessionID] = r
	return nil
}

func (s *memState) RevokeAll(ctx context.Context, now time.Time, userID, reason string) error {
	for id, r := range s.rows {
		if r.UserID == userID {
			_ = s.Revoke(ctx, now, id, reason)
		}
	}
	return nil
}

func (s *memState) RevokeExpired(_ context.Context, now time.Time) ([]Row, error) {
	var out []Row
	for id, r := range s.rows {
		if r.RevokedAt != nil || r.ExpiresAt.After(now) {
			continue
		}
		t := now
		r.RevokedAt = &t
		s.rows[id] = r
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) InTx(_ context.Context, fn func(tx Store) error) error {
	return fn(s)
}
