package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/storage"
)

// AlertStore implements storage.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *Pool
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(pool *Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

// Insert adds one alert. Returns ErrDuplicateKey if the alert ID exists.
func (s *AlertStore) Insert(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	query := `
		INSERT INTO alerts (
			alert_id, type, severity, position_id, protocol,
			title, message, health_factor, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		a.ID,
		string(a.Type),
		string(a.Severity),
		a.PositionID,
		string(a.Protocol),
		a.Title,
		a.Message,
		a.HealthFactor,
		payload,
		a.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetByPosition retrieves all alerts for a position, newest first.
func (s *AlertStore) GetByPosition(ctx context.Context, positionID string) ([]*domain.Alert, error) {
	query := `
		SELECT alert_id, type, severity, position_id, protocol,
		       title, message, health_factor, payload, created_at
		FROM alerts
		WHERE position_id = $1
		ORDER BY created_at DESC, alert_id DESC
	`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("get alerts by position: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// GetRecent retrieves the latest alerts across positions, newest first.
func (s *AlertStore) GetRecent(ctx context.Context, limit int) ([]*domain.Alert, error) {
	query := `
		SELECT alert_id, type, severity, position_id, protocol,
		       title, message, health_factor, payload, created_at
		FROM alerts
		ORDER BY created_at DESC, alert_id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func scanAlerts(rows pgx.Rows) ([]*domain.Alert, error) {
	var out []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var typ, severity, protocol string
		var payload []byte
		err := rows.Scan(&a.ID, &typ, &severity, &a.PositionID, &protocol,
			&a.Title, &a.Message, &a.HealthFactor, &payload, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = domain.AlertType(typ)
		a.Severity = domain.Severity(severity)
		a.Protocol = domain.Protocol(protocol)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &a.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal alert payload: %w", err)
			}
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}
