package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moveflow/vault-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// latest strategy table and bot sessions. Writes go to the primary store and
// refresh the cache; reads check Redis first then fall back to the primary.
// Snapshot history is not cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache) ---

func (s *CachedStore) SaveStrategyTable(ctx context.Context, table []model.Strategy) error {
	if err := s.primary.SaveStrategyTable(ctx, table); err != nil {
		return err
	}
	s.cache(ctx, tableKey(), table)
	return nil
}

func (s *CachedStore) SaveSession(ctx context.Context, sess model.Session) error {
	if err := s.primary.SaveSession(ctx, sess); err != nil {
		return err
	}
	// Invalidate; next read will re-populate with the stored timestamp.
	s.rdb.Del(ctx, sessionKey(sess.ConversationID))
	return nil
}

func (s *CachedStore) DeleteSession(ctx context.Context, id int64) error {
	if err := s.primary.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, sessionKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestStrategyTable(ctx context.Context) ([]model.Strategy, error) {
	data, err := s.rdb.Get(ctx, tableKey()).Bytes()
	if err == nil {
		var table []model.Strategy
		if json.Unmarshal(data, &table) == nil {
			return table, nil
		}
	}

	table, err := s.primary.LatestStrategyTable(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, tableKey(), table)
	return table, nil
}

func (s *CachedStore) GetSession(ctx context.Context, id int64) (model.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == nil {
		var sess model.Session
		if json.Unmarshal(data, &sess) == nil {
			return sess, nil
		}
	}

	sess, err := s.primary.GetSession(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	s.cache(ctx, sessionKey(id), sess)
	return sess, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertVaultSnapshot(ctx context.Context, snap *model.VaultSnapshot) error {
	return s.primary.InsertVaultSnapshot(ctx, snap)
}

func (s *CachedStore) ListVaultSnapshots(ctx context.Context, limit int) ([]model.VaultSnapshot, error) {
	return s.primary.ListVaultSnapshots(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func tableKey() string { return "strategies:latest" }
func sessionKey(id int64) string { return fmt.Sprintf("session:%d", id) }
