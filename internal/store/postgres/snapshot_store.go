package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. The
// protocol and network share maps are stored as JSONB.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `taken_at, total_initial, total_current, total_return,
	weighted_apy, benchmark_delta, gas_cost_ratio, diversification,
	volatility_score, best_performer, worst_performer, active_positions,
	protocol_shares, network_shares`

// Insert appends a snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.PerformanceSnapshot) error {
	protoJSON, err := json.Marshal(snap.ProtocolShares)
	if err != nil {
		return fmt.Errorf("postgres: marshal protocol shares: %w", err)
	}
	netJSON, err := json.Marshal(snap.NetworkShares)
	if err != nil {
		return fmt.Errorf("postgres: marshal network shares: %w", err)
	}

	const query = `
		INSERT INTO performance_snapshots (
			taken_at, total_initial, total_current, total_return,
			weighted_apy, benchmark_delta, gas_cost_ratio, diversification,
			volatility_score, best_performer, worst_performer, active_positions,
			protocol_shares, network_shares
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.pool.Exec(ctx, query,
		snap.TakenAt, snap.TotalInitial, snap.TotalCurrent, snap.TotalReturn,
		snap.WeightedAPY, snap.BenchmarkDelta, snap.GasCostRatio, snap.Diversification,
		snap.VolatilityScore, snap.BestPerformer, snap.WorstPerformer, snap.ActivePositions,
		protoJSON, netJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	return nil
}

// ListRecent returns the newest snapshots, newest first.
func (s *SnapshotStore) ListRecent(ctx context.Context, limit int) ([]domain.PerformanceSnapshot, error) {
	query := `SELECT ` + snapshotSelectCols + ` FROM performance_snapshots
		ORDER BY taken_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent snapshots: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent snapshots: %w", err)
	}
	return snaps, nil
}

// DeleteBefore prunes snapshots taken strictly before the cutoff and returns
// the number deleted.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM performance_snapshots WHERE taken_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.PerformanceSnapshot, error) {
	var snaps []domain.PerformanceSnapshot
	for rows.Next() {
		var snap domain.PerformanceSnapshot
		var protoJSON, netJSON []byte

		if err := rows.Scan(
			&snap.TakenAt, &snap.TotalInitial, &snap.TotalCurrent, &snap.TotalReturn,
			&snap.WeightedAPY, &snap.BenchmarkDelta, &snap.GasCostRatio, &snap.Diversification,
			&snap.VolatilityScore, &snap.BestPerformer, &snap.WorstPerformer, &snap.ActivePositions,
			&protoJSON, &netJSON,
		); err != nil {
			return nil, err
		}
		if protoJSON != nil {
			if err := json.Unmarshal(protoJSON, &snap.ProtocolShares); err != nil {
				return nil, fmt.Errorf("unmarshal protocol shares: %w", err)
			}
		}
		if netJSON != nil {
			if err := json.Unmarshal(netJSON, &snap.NetworkShares); err != nil {
				return nil, fmt.Errorf("unmarshal network shares: %w", err)
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
