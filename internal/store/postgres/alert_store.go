package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hypemarket/engine/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL. The partial
// unique index on (market_id, alert_type) WHERE NOT resolved makes the
// upsert idempotent: repeated breaches update the open alert in place.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates an AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, market_id, alert_type, severity, observed_ratio,
	required_liquidity, current_liquidity, resolved, resolved_by, resolved_at,
	created_at, updated_at`

func scanAlert(row pgx.Row) (domain.LiquidityAlert, error) {
	var a domain.LiquidityAlert
	var alertType, severity string
	err := row.Scan(&a.ID, &a.MarketID, &alertType, &severity, &a.ObservedRatio,
		&a.RequiredLiquidity, &a.CurrentLiquidity, &a.Resolved, &a.ResolvedBy,
		&a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.LiquidityAlert{}, err
	}
	a.Type = domain.AlertType(alertType)
	a.Severity = domain.AlertSeverity(severity)
	return a, nil
}

// UpsertUnresolved inserts a new unresolved alert or refreshes the existing
// one for the same (market, type), returning the persisted row.
func (s *AlertStore) UpsertUnresolved(ctx context.Context, alert domain.LiquidityAlert) (domain.LiquidityAlert, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO liquidity_alerts (
			id, market_id, alert_type, severity, observed_ratio,
			required_liquidity, current_liquidity
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (market_id, alert_type) WHERE NOT resolved
		 DO UPDATE SET severity           = EXCLUDED.severity,
		               observed_ratio     = EXCLUDED.observed_ratio,
		               required_liquidity = EXCLUDED.required_liquidity,
		               current_liquidity  = EXCLUDED.current_liquidity,
		               updated_at         = NOW()
		 RETURNING `+alertSelectCols,
		alert.ID, alert.MarketID, string(alert.Type), string(alert.Severity),
		alert.ObservedRatio, alert.RequiredLiquidity, alert.CurrentLiquidity)

	persisted, err := scanAlert(row)
	if err != nil {
		return domain.LiquidityAlert{}, fmt.Errorf("postgres: upsert alert %s/%s: %w",
			alert.MarketID, alert.Type, err)
	}
	return persisted, nil
}

func (s *AlertStore) GetAlert(ctx context.Context, alertID string) (domain.LiquidityAlert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertSelectCols+` FROM liquidity_alerts WHERE id = $1`, alertID)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiquidityAlert{}, fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
		}
		return domain.LiquidityAlert{}, fmt.Errorf("postgres: get alert %s: %w", alertID, err)
	}
	return a, nil
}

// ListUnresolved returns unresolved alerts, filtered to one market when
// marketID is non-empty.
func (s *AlertStore) ListUnresolved(ctx context.Context, marketID string) ([]domain.LiquidityAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM liquidity_alerts WHERE NOT resolved`
	args := []any{}
	if marketID != "" {
		query += ` AND market_id = $1`
		args = append(args, marketID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.LiquidityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ResolveAlert records the operator and timestamp on an open alert.
func (s *AlertStore) ResolveAlert(ctx context.Context, alertID, operator string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE liquidity_alerts SET resolved = TRUE, resolved_by = $2,
		        resolved_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND NOT resolved`, alertID, operator)
	if err != nil {
		return fmt.Errorf("postgres: resolve alert %s: %w", alertID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AlertStore = (*AlertStore)(nil)
