package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps snapshots in a JSONB column with the lock on the same row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT PRIMARY KEY,
			state JSONB,
			next_node TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			lock_id TEXT,
			lock_until TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx, `
		SELECT state, next_node, updated_at FROM checkpoints
		WHERE session_id = $1 AND state IS NOT NULL
	`, sessionID).Scan(&snap.State, &snap.Next, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (session_id, state, next_node, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id) DO UPDATE
		SET state = EXCLUDED.state, next_node = EXCLUDED.next_node, updated_at = NOW()
	`, sessionID, []byte(snap.State), snap.Next)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lock(ctx context.Context, sessionID, owner string, ttl time.Duration) error {
	lockUntil := time.Now().Add(ttl)
	// Only succeeds if no lock exists, the lock expired, or we own it.
	result, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (session_id, lock_id, lock_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE
		SET lock_id = EXCLUDED.lock_id, lock_until = EXCLUDED.lock_until
		WHERE checkpoints.lock_id IS NULL
			OR checkpoints.lock_until < NOW()
			OR checkpoints.lock_id = EXCLUDED.lock_id
	`, sessionID, owner, lockUntil)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLocked
	}
	return nil
}

func (s *PostgresStore) Unlock(ctx context.Context, sessionID, owner string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE checkpoints SET lock_id = NULL, lock_until = NULL
		WHERE session_id = $1 AND lock_id = $2
	`, sessionID, owner)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
