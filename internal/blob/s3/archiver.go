package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the time-ranged query methods it actually calls,
// not the full domain store interfaces. The Postgres stores satisfy these
// implicitly.
// ---------------------------------------------------------------------------

// PositionArchiveStore provides read access to closed positions for archival.
type PositionArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// ExecutionArchiveStore provides read access to old execution records for
// archival.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error)
}

// SnapshotArchiveStore provides read access to old performance snapshots for
// archival, and pruning after upload.
type SnapshotArchiveStore interface {
	ListRecent(ctx context.Context, limit int) ([]domain.PerformanceSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver serializes aged records to JSONL and uploads them to cold
// storage. Closed positions and execution records are archived but never
// deleted from the primary store here; snapshots are pruned after a
// verified upload since the tracker keeps its own working window.
type Archiver struct {
	writer    domain.BlobWriter
	positions PositionArchiveStore
	execs     ExecutionArchiveStore
	snaps     SnapshotArchiveStore
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver over the given stores. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	positions PositionArchiveStore,
	execs ExecutionArchiveStore,
	snaps SnapshotArchiveStore,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		execs:     execs,
		snaps:     snaps,
		audit:     audit,
	}
}

// ArchiveClosedPositions uploads all positions closed before the cutoff to
// archive/positions/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(positions))
	a.logArchive(ctx, "archive.positions", path, count, before)
	return count, nil
}

// ArchiveExecutions uploads all execution records created before the cutoff
// to archive/executions/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.execs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	count := int64(len(records))
	a.logArchive(ctx, "archive.executions", path, count, before)
	return count, nil
}

// ArchiveSnapshots uploads the snapshots taken before the cutoff and then
// prunes them from the primary store. Pruning happens only after a
// successful upload.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	// The snapshot store has no unbounded list; pull a generous window and
	// filter by the cutoff.
	snaps, err := a.snaps.ListRecent(ctx, 10_000)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	var old []domain.PerformanceSnapshot
	for _, s := range snaps {
		if s.TakenAt.Before(before) {
			old = append(old, s)
		}
	}
	if len(old) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(old)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots marshal: %w", err)
	}

	path := archivePath("snapshots", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots upload: %w", err)
	}

	pruned, err := a.snaps.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(old)), fmt.Errorf("s3blob: prune snapshots: %w", err)
	}
	a.logArchive(ctx, "archive.snapshots", path, pruned, before)
	return pruned, nil
}

func (a *Archiver) logArchive(ctx context.Context, event, path string, count int64, before time.Time) {
	if a.audit == nil {
		return
	}
	_ = a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2026-01.jsonl
//	archive/executions/2026-01.jsonl
//	archive/snapshots/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
