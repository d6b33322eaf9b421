package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a goroutine-safe in-memory Store. It backs unit tests and
// the degraded sync-disabled mode when the durable store is unreadable.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*CachedEntry
	ops     map[string]*PendingOperation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*CachedEntry),
		ops:     make(map[string]*PendingOperation),
	}
}

func (s *MemoryStore) Close() error { return nil }

func entryKey(partition, key string) string {
	return partition + "\x00" + key
}

// ── Cache store ──────────────────────────────────────────────────────

func (s *MemoryStore) Get(_ context.Context, partition, key string) (*CachedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[entryKey(partition, key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, entry *CachedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	if cp.StoredAt.IsZero() {
		cp.StoredAt = time.Now().UTC()
	}
	s.entries[entryKey(cp.Partition, cp.Key)] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, partition, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryKey(partition, key))
	return nil
}

func (s *MemoryStore) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, e := range s.entries {
		seen[e.Partition] = true
	}
	var partitions []string
	for p := range seen {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)
	return partitions, nil
}

func (s *MemoryStore) DeleteAllExcept(_ context.Context, keep []string) error {
	keepSet := make(map[string]bool, len(keep))
	for _, p := range keep {
		keepSet[p] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if !keepSet[e.Partition] {
			delete(s.entries, k)
		}
	}
	return nil
}

// ── Operation queue ──────────────────────────────────────────────────

func (s *MemoryStore) Enqueue(_ context.Context, table string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := &PendingOperation{
		ID:         uuid.New().String(),
		Table:      table,
		Payload:    append([]byte(nil), payload...),
		CreatedAt:  time.Now().UTC(),
		SyncStatus: StatusPending,
	}
	s.ops[op.ID] = op
	return op.ID, nil
}

func (s *MemoryStore) DequeuePending(_ context.Context, limit int) ([]*PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []*PendingOperation
	for _, op := range s.ops {
		if op.SyncStatus == StatusPending {
			cp := *op
			ready = append(ready, &cp)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].CreatedAt.Before(ready[j].CreatedAt) })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (s *MemoryStore) MarkInFlight(_ context.Context, id string) error {
	return s.setStatus(id, StatusInFlight)
}

func (s *MemoryStore) MarkSynced(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

func (s *MemoryStore) MarkPending(_ context.Context, id string) error {
	return s.setStatus(id, StatusPending)
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, errMsg string, ceiling int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return false, fmt.Errorf("unknown operation %s", id)
	}
	op.RetryCount++
	op.LastError = errMsg
	if op.RetryCount >= ceiling {
		op.SyncStatus = StatusFailed
		return true, nil
	}
	op.SyncStatus = StatusPending
	return false, nil
}

func (s *MemoryStore) Fail(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return fmt.Errorf("unknown operation %s", id)
	}
	op.SyncStatus = StatusFailed
	op.LastError = errMsg
	return nil
}

func (s *MemoryStore) RequeueInFlight(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, op := range s.ops {
		if op.SyncStatus == StatusInFlight {
			op.SyncStatus = StatusPending
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListFailed(_ context.Context, limit int) ([]*PendingOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed []*PendingOperation
	for _, op := range s.ops {
		if op.SyncStatus == StatusFailed {
			cp := *op
			failed = append(failed, &cp)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].CreatedAt.Before(failed[j].CreatedAt) })
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

func (s *MemoryStore) Retry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok || op.SyncStatus != StatusFailed {
		return fmt.Errorf("operation %s is not in failed state", id)
	}
	op.SyncStatus = StatusPending
	op.RetryCount = 0
	op.LastError = ""
	return nil
}

func (s *MemoryStore) Discard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

func (s *MemoryStore) Counts(_ context.Context) (QueueCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts QueueCounts
	for _, op := range s.ops {
		switch op.SyncStatus {
		case StatusPending:
			counts.Pending++
		case StatusInFlight:
			counts.InFlight++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (s *MemoryStore) setStatus(id string, status SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return fmt.Errorf("unknown operation %s", id)
	}
	op.SyncStatus = status
	return nil
}
