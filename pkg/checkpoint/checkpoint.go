// Package checkpoint persists conversation state between turns and serializes turns per session.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrLocked   = errors.New("session is locked by another turn")
)

// Snapshot is the persisted state of one session.
type Snapshot struct {
	// State is the serialized conversation state.
	State json.RawMessage `json:"state"`
	// Next is the stage the session resumes at, empty when the last turn finished.
	Next      string    `json:"next"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store saves snapshots and hands out per-session locks with expiry. A lock held by owner can be
// re-acquired by the same owner; an expired lock can be taken by anyone.
type Store interface {
	Load(ctx context.Context, sessionID string) (Snapshot, error)
	Save(ctx context.Context, sessionID string, snap Snapshot) error
	Lock(ctx context.Context, sessionID, owner string, ttl time.Duration) error
	Unlock(ctx context.Context, sessionID, owner string) error
}

// AcquireLock retries Lock while the session is held by someone else, for up to wait. It returns
// ErrLocked if the lock could not be taken in time.
func AcquireLock(ctx context.Context, s Store, sessionID, owner string, ttl, wait time.Duration) error {
	if wait <= 0 {
		return s.Lock(ctx, sessionID, owner, ttl)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = wait

	err := backoff.Retry(func() error {
		err := s.Lock(ctx, sessionID, owner, ttl)
		if err != nil && !errors.Is(err, ErrLocked) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if errors.Is(err, ErrLocked) {
			LockConflictsTotal.Inc()
			return ErrLocked
		}
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	return nil
}
