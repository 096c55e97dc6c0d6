// Package store defines the persistence interface for the vault engine.
// Implementations include PostgreSQL, SQLite (single-binary deployments),
// Redis (read-through cache over either), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/moveflow/vault-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Chain state is the source of truth for
// balances; the store only keeps history, the reconciled strategy table, and
// bot conversation state.
type Store interface {
	// --- Vault history ---

	// InsertVaultSnapshot appends one vault read to the history.
	InsertVaultSnapshot(ctx context.Context, snap *model.VaultSnapshot) error

	// ListVaultSnapshots returns up to limit snapshots, newest first.
	ListVaultSnapshots(ctx context.Context, limit int) ([]model.VaultSnapshot, error)

	// --- Strategy table ---

	// SaveStrategyTable records a new version of the strategy table.
	SaveStrategyTable(ctx context.Context, table []model.Strategy) error

	// LatestStrategyTable returns the most recently saved table, or
	// ErrNotFound if none was saved.
	LatestStrategyTable(ctx context.Context) ([]model.Strategy, error)

	// --- Sessions ---

	// GetSession returns the session for a conversation. A conversation
	// that has never been saved yields an idle session, not an error.
	GetSession(ctx context.Context, conversationID int64) (model.Session, error)

	// SaveSession upserts a session.
	SaveSession(ctx context.Context, sess model.Session) error

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, conversationID int64) error
}

// DefaultHistoryLimit caps ListVaultSnapshots when limit is not positive.
const DefaultHistoryLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 10*DefaultHistoryLimit {
		return DefaultHistoryLimit
	}
	return limit
}

func newSession(id int64) model.Session {
	return model.Session{ConversationID: id}
}
