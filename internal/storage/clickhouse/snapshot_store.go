package clickhouse

import (
	"context"
	"fmt"

	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/storage"
)

// RiskSnapshotStore implements storage.RiskSnapshotStore using ClickHouse.
// Snapshots are an append-only timeseries written in batches each cycle.
type RiskSnapshotStore struct {
	conn *Conn
}

// NewRiskSnapshotStore creates a new RiskSnapshotStore.
func NewRiskSnapshotStore(conn *Conn) *RiskSnapshotStore {
	return &RiskSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RiskSnapshotStore = (*RiskSnapshotStore)(nil)

// InsertBulk appends a batch of snapshots.
func (s *RiskSnapshotStore) InsertBulk(ctx context.Context, snapshots []*domain.RiskSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	for _, snap := range snapshots {
		if snap == nil || snap.PositionID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO risk_snapshots (
			position_id, protocol, health_factor, level, score,
			liquidation_price, distance_pct, collateral_usd, debt_usd, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		err = batch.Append(
			snap.PositionID,
			string(snap.Protocol),
			snap.HealthFactor,
			string(snap.Level),
			snap.Score,
			snap.LiquidationPrice,
			snap.DistanceToLiquidation,
			snap.TotalCollateralUSD,
			snap.TotalDebtUSD,
			uint64(snap.TimestampMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByPosition retrieves snapshots for a position within [start, end]
// milliseconds inclusive, ordered by timestamp ASC.
func (s *RiskSnapshotStore) GetByPosition(ctx context.Context, positionID string, start, end int64) ([]*domain.RiskSnapshot, error) {
	query := `
		SELECT position_id, protocol, health_factor, level, score,
		       liquidation_price, distance_pct, collateral_usd, debt_usd, timestamp_ms
		FROM risk_snapshots
		WHERE position_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, positionID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []*domain.RiskSnapshot
	for rows.Next() {
		var snap domain.RiskSnapshot
		var protocol, level string
		var ts uint64
		err := rows.Scan(&snap.PositionID, &protocol, &snap.HealthFactor, &level, &snap.Score,
			&snap.LiquidationPrice, &snap.DistanceToLiquidation,
			&snap.TotalCollateralUSD, &snap.TotalDebtUSD, &ts)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Protocol = domain.Protocol(protocol)
		snap.Level = domain.RiskLevel(level)
		snap.TimestampMs = int64(ts)
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
