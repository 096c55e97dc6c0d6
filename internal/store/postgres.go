package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/moveflow/vault-engine/internal/model"
	"github.com/moveflow/vault-engine/internal/units"
)

// PostgresStore implements Store using PostgreSQL.
// Asset amounts and share counts are stored as NUMERIC for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS vault_snapshots (
	id                 TEXT PRIMARY KEY,
	total_assets       NUMERIC NOT NULL,
	total_shares       NUMERIC NOT NULL,
	total_yield_earned NUMERIC NOT NULL,
	paused             BOOLEAN NOT NULL,
	strategy_count     BIGINT NOT NULL,
	fetched_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vault_snapshots_fetched ON vault_snapshots (fetched_at DESC);

CREATE TABLE IF NOT EXISTS strategy_tables (
	id       BIGSERIAL PRIMARY KEY,
	body     JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	conversation_id BIGINT PRIMARY KEY,
	wallet          TEXT NOT NULL DEFAULT '',
	prompt          JSONB NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);`

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertVaultSnapshot(ctx context.Context, v *model.VaultSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_snapshots (id, total_assets, total_shares, total_yield_earned, paused, strategy_count, fetched_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		v.ID, v.TotalAssets.String(), units.OrZero(v.TotalShares).String(), v.TotalYieldEarned.String(),
		v.Paused, int64(v.StrategyCount), v.FetchedAt,
	)
	return err
}

func (s *PostgresStore) ListVaultSnapshots(ctx context.Context, limit int) ([]model.VaultSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, total_assets::TEXT, total_shares::TEXT, total_yield_earned::TEXT,
		        paused, strategy_count, fetched_at
		 FROM vault_snapshots ORDER BY fetched_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.VaultSnapshot
	for rows.Next() {
		var (
			v                      model.VaultSnapshot
			assets, shares, yieldS string
			count                  int64
		)
		if err := rows.Scan(&v.ID, &assets, &shares, &yieldS, &v.Paused, &count, &v.FetchedAt); err != nil {
			return nil, err
		}
		if err := decodeSnapshotColumns(&v, assets, shares, yieldS, count); err != nil {
			return nil, err
		}
		snaps = append(snaps, v)
	}
	return snaps, rows.Err()
}

// decodeSnapshotColumns fills the numeric fields of v from their text forms.
func decodeSnapshotColumns(v *model.VaultSnapshot, assets, shares, yieldS string, count int64) error {
	var err error
	if v.TotalAssets, err = decimal.NewFromString(assets); err != nil {
		return fmt.Errorf("snapshot %s total_assets: %w", v.ID, err)
	}
	if v.TotalShares, err = units.ParseUint(shares); err != nil {
		return fmt.Errorf("snapshot %s total_shares: %w", v.ID, err)
	}
	if v.TotalYieldEarned, err = decimal.NewFromString(yieldS); err != nil {
		return fmt.Errorf("snapshot %s total_yield_earned: %w", v.ID, err)
	}
	v.StrategyCount = uint64(count)
	v.FetchedAt = v.FetchedAt.UTC()
	return nil
}

func (s *PostgresStore) SaveStrategyTable(ctx context.Context, table []model.Strategy) error {
	body, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("marshal strategy table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO strategy_tables (body) VALUES ($1)`, body)
	return err
}

func (s *PostgresStore) LatestStrategyTable(ctx context.Context) ([]model.Strategy, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM strategy_tables ORDER BY id DESC LIMIT 1`).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest strategy table: %w", err)
	}
	var table []model.Strategy
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("decode strategy table: %w", err)
	}
	return table, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id int64) (model.Session, error) {
	sess := newSession(id)
	var prompt []byte
	err := s.pool.QueryRow(ctx,
		`SELECT wallet, prompt, updated_at FROM sessions WHERE conversation_id = $1`, id).
		Scan(&sess.Wallet, &prompt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return newSession(id), nil
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("get session %d: %w", id, err)
	}
	if err := json.Unmarshal(prompt, &sess.Prompt); err != nil {
		return model.Session{}, fmt.Errorf("decode session %d prompt: %w", id, err)
	}
	return sess, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess model.Session) error {
	prompt, err := json.Marshal(sess.Prompt)
	if err != nil {
		return fmt.Errorf("marshal prompt: %w", err)
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (conversation_id, wallet, prompt, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (conversation_id) DO UPDATE
		 SET wallet = EXCLUDED.wallet, prompt = EXCLUDED.prompt, updated_at = EXCLUDED.updated_at`,
		sess.ConversationID, sess.Wallet, prompt, sess.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE conversation_id = $1`, id)
	return err
}
