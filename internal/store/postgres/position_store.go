package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, wallet, protocol, asset, network,
	entry_amount, entry_price, entry_apy, entry_risk, opened_at,
	current_amount, compounded, harvested, last_compound_at, last_harvest_at,
	compound_count, harvest_count, partial_unstakes, gas_spent,
	status, closed_at, exit_reason, net_yield`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status, exitReason string
	var lastHarvestAt *time.Time

	err := row.Scan(
		&p.ID, &p.Wallet, &p.Protocol, &p.Asset, &p.Network,
		&p.EntryAmount, &p.EntryPrice, &p.EntryAPY, &p.EntryRisk, &p.OpenedAt,
		&p.CurrentAmount, &p.Compounded, &p.Harvested, &p.LastCompoundAt, &lastHarvestAt,
		&p.CompoundCount, &p.HarvestCount, &p.PartialUnstakes, &p.GasSpent,
		&status, &p.ClosedAt, &exitReason, &p.NetYield,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if lastHarvestAt != nil {
		p.LastHarvestAt = *lastHarvestAt
	}
	p.Status = domain.PositionStatus(status)
	p.ExitReason = domain.ExitReason(exitReason)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, wallet, protocol, asset, network,
			entry_amount, entry_price, entry_apy, entry_risk, opened_at,
			current_amount, compounded, harvested, last_compound_at, last_harvest_at,
			compound_count, harvest_count, partial_unstakes, gas_spent,
			status, closed_at, exit_reason, net_yield, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, $23, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Wallet, p.Protocol, p.Asset, p.Network,
		p.EntryAmount, p.EntryPrice, p.EntryAPY, p.EntryRisk, p.OpenedAt,
		p.CurrentAmount, p.Compounded, p.Harvested, p.LastCompoundAt, nullableTime(p.LastHarvestAt),
		p.CompoundCount, p.HarvestCount, p.PartialUnstakes, p.GasSpent,
		string(p.Status), p.ClosedAt, string(p.ExitReason), p.NetYield,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_amount = $2, compounded = $3, harvested = $4,
			last_compound_at = $5, last_harvest_at = $6,
			compound_count = $7, harvest_count = $8, partial_unstakes = $9,
			gas_spent = $10, status = $11, closed_at = $12,
			exit_reason = $13, net_yield = $14, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.CurrentAmount, p.Compounded, p.Harvested,
		p.LastCompoundAt, nullableTime(p.LastHarvestAt),
		p.CompoundCount, p.HarvestCount, p.PartialUnstakes,
		p.GasSpent, string(p.Status), p.ClosedAt,
		string(p.ExitReason), p.NetYield,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a single position by id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns all active positions, optionally filtered by wallet.
func (s *PositionStore) ListActive(ctx context.Context, wallet string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'active'`
	args := []any{}
	if wallet != "" {
		query += ` AND wallet = $1`
		args = append(args, wallet)
	}
	query += ` ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	return positions, nil
}

// ListHistory returns positions for a wallet, newest first, with pagination
// and optional open-time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE wallet = $1`
	args := []any{wallet}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns closed positions whose close time is strictly
// before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status = 'closed' AND closed_at < $1
		ORDER BY closed_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	return positions, nil
}

// nullableTime maps a zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
