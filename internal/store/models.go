package store

import (
	"encoding/json"
	"net/http"
	"time"
)

type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusInFlight SyncStatus = "in_flight"
	StatusSynced   SyncStatus = "synced"
	StatusFailed   SyncStatus = "failed"
)

// CachedEntry is one stored response. At most one entry exists per
// (partition, key); writes overwrite.
type CachedEntry struct {
	Partition string      `json:"partition"`
	Key       string      `json:"key"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	Body      []byte      `json:"body"`
	StoredAt  time.Time   `json:"stored_at"`
}

// PendingOperation is one queued mutation awaiting delivery.
type PendingOperation struct {
	ID         string          `json:"id"`
	Table      string          `json:"table"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	SyncStatus SyncStatus      `json:"sync_status"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

type QueueCounts struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Failed   int `json:"failed"`
}
