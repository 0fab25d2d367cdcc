package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given connection pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, decision_id, agent_id, action, tx_hash,
	status, gas_used, profit, error, created_at`

func scanExecutionRows(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	var records []domain.ExecutionRecord
	for rows.Next() {
		var r domain.ExecutionRecord
		var action, status string

		if err := rows.Scan(
			&r.ID, &r.DecisionID, &r.AgentID, &action, &r.TxHash,
			&status, &r.GasUsed, &r.Profit, &r.Error, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Action = domain.Action(action)
		r.Status = domain.ExecutionStatus(status)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Insert appends an execution record. The log is append-only; records are
// never updated.
func (s *ExecutionStore) Insert(ctx context.Context, rec domain.ExecutionRecord) error {
	const query = `
		INSERT INTO execution_records (
			id, decision_id, agent_id, action, tx_hash,
			status, gas_used, profit, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.DecisionID, rec.AgentID, string(rec.Action), rec.TxHash,
		string(rec.Status), rec.GasUsed, rec.Profit, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution record %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the newest records, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	query := `SELECT ` + executionSelectCols + ` FROM execution_records
		ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()

	records, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	return records, nil
}

// ListBefore returns records created strictly before the cutoff, for
// archival.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	query := `SELECT ` + executionSelectCols + ` FROM execution_records
		WHERE created_at < $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before, err)
	}
	defer rows.Close()

	records, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before, err)
	}
	return records, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
