package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/units"
)

// SQLiteStore implements Store on a local SQLite file. Numeric columns are
// TEXT so decimals and share counts round-trip exactly; times are unix
// milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vault_snapshots (
			id                 TEXT PRIMARY KEY,
			total_assets       TEXT NOT NULL,
			total_shares       TEXT NOT NULL,
			total_yield_earned TEXT NOT NULL,
			paused             INTEGER NOT NULL,
			strategy_count     INTEGER NOT NULL,
			fetched_at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vault_snapshots_fetched ON vault_snapshots(fetched_at)`,

		`CREATE TABLE IF NOT EXISTS strategy_tables (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			body     TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			conversation_id INTEGER PRIMARY KEY,
			wallet          TEXT NOT NULL DEFAULT '',
			prompt          TEXT NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertVaultSnapshot(ctx context.Context, v *model.VaultSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO vault_snapshots
		 (id, total_assets, total_shares, total_yield_earned, paused, strategy_count, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TotalAssets.String(), units.OrZero(v.TotalShares).String(), v.TotalYieldEarned.String(),
		v.Paused, int64(v.StrategyCount), v.FetchedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) ListVaultSnapshots(ctx context.Context, limit int) ([]model.VaultSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, total_assets, total_shares, total_yield_earned, paused, strategy_count, fetched_at
		 FROM vault_snapshots ORDER BY fetched_at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.VaultSnapshot
	for rows.Next() {
		var (
			v                      model.VaultSnapshot
			assets, shares, yieldS string
			count, fetchedMs       int64
		)
		if err := rows.Scan(&v.ID, &assets, &shares, &yieldS, &v.Paused, &count, &fetchedMs); err != nil {
			return nil, err
		}
		v.FetchedAt = time.UnixMilli(fetchedMs)
		if err := decodeSnapshotColumns(&v, assets, shares, yieldS, count); err != nil {
			return nil, err
		}
		snaps = append(snaps, v)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) SaveStrategyTable(ctx context.Context, table []model.Strategy) error {
	body, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("marshal strategy table: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO strategy_tables (body, saved_at) VALUES (?, ?)`,
		string(body), time.Now().UnixMilli())
	return err
}

func (s *SQLiteStore) LatestStrategyTable(ctx context.Context) ([]model.Strategy, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM strategy_tables ORDER BY id DESC LIMIT 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest strategy table: %w", err)
	}
	var table []model.Strategy
	if err := json.Unmarshal([]byte(body), &table); err != nil {
		return nil, fmt.Errorf("decode strategy table: %w", err)
	}
	return table, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id int64) (model.Session, error) {
	sess := newSession(id)
	var (
		prompt    string
		updatedMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT wallet, prompt, updated_at FROM sessions WHERE conversation_id = ?`, id).
		Scan(&sess.Wallet, &prompt, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return newSession(id), nil
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("get session %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(prompt), &sess.Prompt); err != nil {
		return model.Session{}, fmt.Errorf("decode session %d prompt: %w", id, err)
	}
	sess.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return sess, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess model.Session) error {
	prompt, err := json.Marshal(sess.Prompt)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (conversation_id, wallet, prompt, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE
		 SET wallet = excluded.wallet, prompt = excluded.prompt, updated_at = excluded.updated_at`,
		sess.ConversationID, sess.Wallet, string(prompt), sess.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE conversation_id = ?`, id)
	return err
}
