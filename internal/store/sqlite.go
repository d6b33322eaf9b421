package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	partition  TEXT NOT NULL,
	key        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	headers    TEXT NOT NULL,
	body       BLOB,
	stored_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (partition, key)
);

CREATE TABLE IF NOT EXISTS pending_operations (
	id          TEXT PRIMARY KEY,
	table_name  TEXT NOT NULL,
	payload     BLOB NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT
);

CREATE INDEX IF NOT EXISTS idx_ops_status_created
	ON pending_operations (sync_status, created_at);
`

// SQLiteStore backs both the cache and the operation queue with a single
// on-device database file, so queued mutations survive process restarts
// and device reboots.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "syncd.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrQueueCorrupt, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrQueueCorrupt, err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ── Cache store ──────────────────────────────────────────────────────

func (s *SQLiteStore) Get(ctx context.Context, partition, key string) (*CachedEntry, error) {
	query := `SELECT partition, key, status, headers, body, stored_at
			  FROM cache_entries WHERE partition = ? AND key = ?`

	row := s.db.QueryRowContext(ctx, query, partition, key)

	var (
		entry   CachedEntry
		headers string
	)
	err := row.Scan(
		&entry.Partition,
		&entry.Key,
		&entry.Status,
		&headers,
		&entry.Body,
		&entry.StoredAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(headers), &entry.Header); err != nil {
		entry.Header = http.Header{}
	}
	return &entry, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry *CachedEntry) error {
	headers, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	query := `INSERT INTO cache_entries (partition, key, status, headers, body, stored_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT (partition, key) DO UPDATE SET
			  status = excluded.status,
			  headers = excluded.headers,
			  body = excluded.body,
			  stored_at = excluded.stored_at`

	_, err = s.db.ExecContext(ctx, query,
		entry.Partition, entry.Key, entry.Status, string(headers), entry.Body, storedAt)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, partition, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE partition = ? AND key = ?`, partition, key)
	return err
}

func (s *SQLiteStore) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT partition FROM cache_entries ORDER BY partition`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		partitions = append(partitions, p)
	}
	return partitions, rows.Err()
}

func (s *SQLiteStore) DeleteAllExcept(ctx context.Context, keep []string) error {
	if len(keep) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
		return err
	}

	placeholders := strings.Repeat("?,", len(keep))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(keep))
	for i, p := range keep {
		args[i] = p
	}

	query := fmt.Sprintf(
		`DELETE FROM cache_entries WHERE partition NOT IN (%s)`, placeholders)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// ── Operation queue ──────────────────────────────────────────────────

func (s *SQLiteStore) Enqueue(ctx context.Context, table string, payload []byte) (string, error) {
	id := uuid.New().String()

	query := `INSERT INTO pending_operations (id, table_name, payload, created_at, sync_status)
			  VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, id, table, payload, time.Now().UTC(), StatusPending)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) DequeuePending(ctx context.Context, limit int) ([]*PendingOperation, error) {
	query := `SELECT id, table_name, payload, created_at, sync_status, retry_count, last_error
			  FROM pending_operations WHERE sync_status = ?
			  ORDER BY created_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

func (s *SQLiteStore) MarkInFlight(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusInFlight)
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, id string) error {
	// Synced operations are removed, not kept: the queue is a delivery
	// log, not an audit trail.
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) MarkPending(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusPending)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, errMsg string, ceiling int) (bool, error) {
	query := `UPDATE pending_operations
			  SET retry_count = retry_count + 1,
			      last_error = ?,
			      sync_status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END
			  WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, errMsg, ceiling, StatusFailed, StatusPending, id)
	if err != nil {
		return false, err
	}

	var status SyncStatus
	row := s.db.QueryRowContext(ctx,
		`SELECT sync_status FROM pending_operations WHERE id = ?`, id)
	if err := row.Scan(&status); err != nil {
		return false, err
	}
	return status == StatusFailed, nil
}

func (s *SQLiteStore) Fail(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET sync_status = ?, last_error = ? WHERE id = ?`,
		StatusFailed, errMsg, id)
	return err
}

func (s *SQLiteStore) RequeueInFlight(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET sync_status = ? WHERE sync_status = ?`,
		StatusPending, StatusInFlight)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ListFailed(ctx context.Context, limit int) ([]*PendingOperation, error) {
	query := `SELECT id, table_name, payload, created_at, sync_status, retry_count, last_error
			  FROM pending_operations WHERE sync_status = ?
			  ORDER BY created_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, StatusFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

func (s *SQLiteStore) Retry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET sync_status = ?, retry_count = 0, last_error = NULL
		 WHERE id = ? AND sync_status = ?`,
		StatusPending, id, StatusFailed)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("operation %s is not in failed state", id)
	}
	return nil
}

func (s *SQLiteStore) Discard(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Counts(ctx context.Context) (QueueCounts, error) {
	query := `SELECT sync_status, COUNT(*) FROM pending_operations GROUP BY sync_status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return QueueCounts{}, err
	}
	defer rows.Close()

	var counts QueueCounts
	for rows.Next() {
		var (
			status SyncStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return QueueCounts{}, err
		}
		switch status {
		case StatusPending:
			counts.Pending = n
		case StatusInFlight:
			counts.InFlight = n
		case StatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) setStatus(ctx context.Context, id string, status SyncStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET sync_status = ? WHERE id = ?`, status, id)
	return err
}

func scanOperations(rows *sql.Rows) ([]*PendingOperation, error) {
	var ops []*PendingOperation
	for rows.Next() {
		var (
			op      PendingOperation
			lastErr sql.NullString
		)
		err := rows.Scan(
			&op.ID,
			&op.Table,
			&op.Payload,
			&op.CreatedAt,
			&op.SyncStatus,
			&op.RetryCount,
			&lastErr,
		)
		if err != nil {
			return nil, err
		}
		op.LastError = lastErr.String
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}
