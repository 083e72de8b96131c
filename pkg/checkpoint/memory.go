package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryLock struct {
	owner string
	until time.Time
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	clock clockwork.Clock

	mu    sync.Mutex
	snaps map[string]Snapshot
	locks map[string]memoryLock
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		snaps: make(map[string]Snapshot),
		locks: make(map[string]memoryLock),
	}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[sessionID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.UpdatedAt = s.clock.Now()
	s.snaps[sessionID] = snap
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, sessionID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if l, ok := s.locks[sessionID]; ok && l.owner != owner && now.Before(l.until) {
		return ErrLocked
	}
	s.locks[sessionID] = memoryLock{owner: owner, until: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Unlock(_ context.Context, sessionID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[sessionID]; ok && l.owner == owner {
		delete(s.locks, sessionID)
	}
	return nil
}
