package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by CacheStore.Get for a missing entry.
	ErrNotFound = errors.New("cache entry not found")

	// ErrQueueCorrupt marks an unreadable durable store. Callers degrade
	// to sync-disabled rather than crash.
	ErrQueueCorrupt = errors.New("operation queue storage is corrupt")
)

// CacheStore is a durable key -> response store with named partitions.
type CacheStore interface {
	Get(ctx context.Context, partition, key string) (*CachedEntry, error)
	Put(ctx context.Context, entry *CachedEntry) error
	Delete(ctx context.Context, partition, key string) error
	Partitions(ctx context.Context) ([]string, error)

	// DeleteAllExcept removes every partition whose name is not in keep.
	// Used to evict stale partitions when the cache version changes.
	DeleteAllExcept(ctx context.Context, keep []string) error
}

// OperationQueue is a durable, ordered log of mutations awaiting delivery.
type OperationQueue interface {
	Enqueue(ctx context.Context, table string, payload []byte) (string, error)

	// DequeuePending returns up to limit pending operations, oldest first.
	DequeuePending(ctx context.Context, limit int) ([]*PendingOperation, error)

	MarkInFlight(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, id string) error

	// MarkPending demotes an operation back to pending, e.g. after an
	// aborted network call. Retry count is preserved.
	MarkPending(ctx context.Context, id string) error

	// MarkFailed records a transient failure: retry count is incremented
	// and the operation returns to pending, or goes terminal failed once
	// the count reaches ceiling. Reports whether the failure is terminal.
	MarkFailed(ctx context.Context, id, errMsg string, ceiling int) (terminal bool, err error)

	// Fail marks an operation terminally failed with no retry, for
	// non-retryable errors such as server-side validation rejections.
	Fail(ctx context.Context, id, errMsg string) error

	// RequeueInFlight demotes every in_flight operation back to pending.
	// Called on open and after every sync pass so no operation is ever
	// stranded by a crash or an aborted pass.
	RequeueInFlight(ctx context.Context) (int, error)

	ListFailed(ctx context.Context, limit int) ([]*PendingOperation, error)

	// Retry moves a terminally failed operation back to pending with a
	// fresh retry budget.
	Retry(ctx context.Context, id string) error

	Discard(ctx context.Context, id string) error
	Counts(ctx context.Context) (QueueCounts, error)
}

// Store bundles both durable services behind one lifecycle.
type Store interface {
	CacheStore
	OperationQueue
	Close() error
}
