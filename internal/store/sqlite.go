package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/servicedg/internal/model"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value_json TEXT NOT NULL,
    updated_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS logs (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    log_key    TEXT NOT NULL,
    ref        TEXT NOT NULL DEFAULT '',
    entry_json TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_key_ref ON logs (log_key, ref)`,
	`CREATE TABLE IF NOT EXISTS operation_records (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    entry_json    TEXT NOT NULL,
    started_at_ms INTEGER NOT NULL,
    created_at    INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_operation_records_user ON operation_records (user_id, started_at_ms)`,
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save writes value as JSON under key, replacing any previous value.
func (s *SQLiteStore) Save(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, key, string(b), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Load decodes the value stored under key into dst and returns the time it
// was last saved. It returns ErrNotFound for a missing key and ErrCorrupt when
// the stored JSON cannot be decoded.
func (s *SQLiteStore) Load(ctx context.Context, key string, dst any) (time.Time, error) {
	var (
		valueJSON string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value_json, updated_at FROM kv WHERE key = ?", key,
	).Scan(&valueJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(valueJSON), dst); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return time.UnixMilli(updatedAt), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// appendToLog appends one JSON entry to the named log. ref is an optional
// secondary key used for targeted updates.
func (s *SQLiteStore) appendToLog(ctx context.Context, logKey, ref string, entry any) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", logKey, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO logs (log_key, ref, entry_json, created_at) VALUES (?, ?, ?, ?)",
		logKey, ref, string(b), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append %s: %w", logKey, err)
	}
	return nil
}

// readLog returns the raw entries of the named log in append order.
func (s *SQLiteStore) readLog(ctx context.Context, logKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entry_json FROM logs WHERE log_key = ? ORDER BY seq", logKey,
	)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", logKey, err)
	}
	defer rows.Close()

	var entries []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s entry: %w", logKey, err)
		}
		entries = append(entries, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", logKey, err)
	}
	return entries, nil
}

// AppendHistory appends an entry to the global operations history log.
func (s *SQLiteStore) AppendHistory(ctx context.Context, e model.HistoryEntry) error {
	return s.appendToLog(ctx, LogHistory, e.OrderID, e)
}

// ListHistory returns every global history entry in append order. Entries
// that fail to decode are skipped.
func (s *SQLiteStore) ListHistory(ctx context.Context) ([]model.HistoryEntry, error) {
	raws, err := s.readLog(ctx, LogHistory)
	if err != nil {
		return nil, err
	}
	entries := make([]model.HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e model.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateHistoryOrderStatus back-fills the order status of the history entries
// recorded for orderID. It returns ErrNotFound when no entry matches.
func (s *SQLiteStore) UpdateHistoryOrderStatus(ctx context.Context, orderID, status string) error {
	if orderID == "" {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT seq, entry_json FROM logs WHERE log_key = ? AND ref = ?", LogHistory, orderID,
	)
	if err != nil {
		return fmt.Errorf("find history entry: %w", err)
	}
	type row struct {
		seq int64
		raw string
	}
	var matched []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.raw); err != nil {
			rows.Close()
			return fmt.Errorf("scan history entry: %w", err)
		}
		matched = append(matched, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate history entries: %w", err)
	}
	if len(matched) == 0 {
		return ErrNotFound
	}

	for _, r := range matched {
		var e model.HistoryEntry
		if err := json.Unmarshal([]byte(r.raw), &e); err != nil {
			continue
		}
		e.OrderStatus = status
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE logs SET entry_json = ? WHERE seq = ?", string(b), r.seq); err != nil {
			return fmt.Errorf("update history entry: %w", err)
		}
	}

	return tx.Commit()
}

// PurgeHistory deletes the whole global operations history log.
func (s *SQLiteStore) PurgeHistory(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE log_key = ?", LogHistory); err != nil {
		return fmt.Errorf("purge history: %w", err)
	}
	return nil
}

// AppendReset appends a reset record to the reset log.
func (s *SQLiteStore) AppendReset(ctx context.Context, r model.ResetRecord) error {
	return s.appendToLog(ctx, LogResets, r.BlockID, r)
}

// ListResets returns every reset record in append order.
func (s *SQLiteStore) ListResets(ctx context.Context) ([]model.ResetRecord, error) {
	raws, err := s.readLog(ctx, LogResets)
	if err != nil {
		return nil, err
	}
	records := make([]model.ResetRecord, 0, len(raws))
	for _, raw := range raws {
		var r model.ResetRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// InsertOperationRecord stores a server side copy of an operation result.
func (s *SQLiteStore) InsertOperationRecord(ctx context.Context, rec *OperationRecord) error {
	b, err := json.Marshal(rec.Entry)
	if err != nil {
		return fmt.Errorf("encode operation record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operation_records (id, user_id, entry_json, started_at_ms, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(b), rec.Entry.StartedAt.UnixMilli(), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert operation record: %w", err)
	}
	return nil
}

// ListOperationRecords returns a user's operation records ordered by
// operation start time.
func (s *SQLiteStore) ListOperationRecords(ctx context.Context, q OperationQuery) ([]*OperationRecord, error) {
	query := "SELECT id, user_id, entry_json, created_at FROM operation_records WHERE user_id = ?"
	args := []any{q.UserID}
	if !q.From.IsZero() {
		query += " AND started_at_ms >= ?"
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		query += " AND started_at_ms <= ?"
		args = append(args, q.To.UnixMilli())
	}
	query += " ORDER BY started_at_ms, created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operation records: %w", err)
	}
	defer rows.Close()

	var records []*OperationRecord
	for rows.Next() {
		var (
			rec       OperationRecord
			entryJSON string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &entryJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan operation record: %w", err)
		}
		if err := json.Unmarshal([]byte(entryJSON), &rec.Entry); err != nil {
			return nil, fmt.Errorf("%w: operation record %s: %v", ErrCorrupt, rec.ID, err)
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation records: %w", err)
	}
	return records, nil
}
