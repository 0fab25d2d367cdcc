package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// AuditStore appends lifecycle events to the audit_log table. Entries are
// immutable once written; the archiver is the only consumer that reads them
// back in bulk.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log records one event. The detail map lands in a JSONB column so ad-hoc
// queries can filter on payload fields.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: encode audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`,
		event, payload,
	); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List pages through the log newest first, optionally bounded in time.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, event, detail, created_at FROM audit_log`)

	var args []any
	var conds []string
	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit log: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Event, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit log: %w", err)
	}
	return entries, nil
}
