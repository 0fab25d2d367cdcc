package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. The in-memory ledger remains the source
// of truth; the store is a durable mirror.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListActive(ctx context.Context, wallet string) ([]Position, error)
	ListHistory(ctx context.Context, wallet string, opts ListOpts) ([]Position, error)
	// ListClosedBefore returns closed positions whose close time is strictly
	// before the cutoff, for archival.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
}

// ExecutionStore persists the append-only execution record log.
type ExecutionStore interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionRecord, error)
}

// SnapshotStore persists performance snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, snap PerformanceSnapshot) error
	ListRecent(ctx context.Context, limit int) ([]PerformanceSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of lifecycle events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
