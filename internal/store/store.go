package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/servicedg/internal/model"
)

// Log keys for the append-only logs.
const (
	LogHistory = "operations_history"
	LogResets  = "reset_history"
)

var (
	// ErrNotFound is returned when a key or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("corrupt stored value")
)

// Store defines the durable persistence used by the engine and the API.
//
// Snapshots are saved as full values under their own key, last writer wins.
// Only the history and reset logs are append-only.
type Store interface {
	Save(ctx context.Context, key string, value any) error
	Load(ctx context.Context, key string, dst any) (time.Time, error)
	Delete(ctx context.Context, key string) error

	AppendHistory(ctx context.Context, e model.HistoryEntry) error
	ListHistory(ctx context.Context) ([]model.HistoryEntry, error)
	UpdateHistoryOrderStatus(ctx context.Context, orderID, status string) error
	PurgeHistory(ctx context.Context) error

	AppendReset(ctx context.Context, r model.ResetRecord) error
	ListResets(ctx context.Context) ([]model.ResetRecord, error)

	InsertOperationRecord(ctx context.Context, rec *OperationRecord) error
	ListOperationRecords(ctx context.Context, q OperationQuery) ([]*OperationRecord, error)

	Close() error
}

// OperationRecord is a server side copy of one operation result, keyed by the
// authenticated user that produced it.
type OperationRecord struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Entry     model.HistoryEntry `json:"entry"`
	CreatedAt time.Time          `json:"created_at"`
}

// OperationQuery filters operation records by user and start time range.
// Zero times leave that side of the range open.
type OperationQuery struct {
	UserID string
	From   time.Time
	To     time.Time
}
