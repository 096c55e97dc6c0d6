package store

import (
	"context"
	"sync"
	"time"

	"github.com/moveflow/vault-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots []model.VaultSnapshot
	tables    [][]model.Strategy
	sessions  map[int64]model.Session
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]model.Session),
	}
}

func (s *MemoryStore) InsertVaultSnapshot(_ context.Context, snap *model.VaultSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *MemoryStore) ListVaultSnapshots(_ context.Context, limit int) ([]model.VaultSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = clampLimit(limit)
	out := make([]model.VaultSnapshot, 0, min(limit, len(s.snapshots)))
	for i := len(s.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.snapshots[i])
	}
	return out, nil
}

func (s *MemoryStore) SaveStrategyTable(_ context.Context, table []model.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables = append(s.tables, cloneTable(table))
	return nil
}

func (s *MemoryStore) LatestStrategyTable(_ context.Context) ([]model.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.tables) == 0 {
		return nil, ErrNotFound
	}
	return cloneTable(s.tables[len(s.tables)-1]), nil
}

func (s *MemoryStore) GetSession(_ context.Context, id int64) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return newSession(id), nil
	}
	return sess, nil
}

func (s *MemoryStore) SaveSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}
	s.sessions[sess.ConversationID] = sess
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// cloneTable copies a table so callers cannot mutate stored entries
// through the OnChainIndex pointers.
func cloneTable(t []model.Strategy) []model.Strategy {
	out := make([]model.Strategy, len(t))
	for i, st := range t {
		if st.OnChainIndex != nil {
			idx := *st.OnChainIndex
			st.OnChainIndex = &idx
		}
		out[i] = st
	}
	return out
}
