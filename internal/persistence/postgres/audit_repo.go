package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/quantalpha/riskgate/internal/persistence"
)

// Schema for the decisions table:
//
//	CREATE TABLE risk_decisions (
//	    ts          TIMESTAMPTZ NOT NULL,
//	    strategy_id TEXT        NOT NULL,
//	    symbol      TEXT        NOT NULL,
//	    side        TEXT        NOT NULL,
//	    status      TEXT        NOT NULL,
//	    reason      TEXT        NOT NULL,
//	    details     JSONB,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX risk_decisions_ts_idx ON risk_decisions (ts DESC);

// auditRepo implements AuditRepo for PostgreSQL.
type auditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAuditRepo creates a PostgreSQL decision audit repository.
func NewAuditRepo(db *sqlx.DB, timeout time.Duration) persistence.AuditRepo {
	return &auditRepo{db: db, timeout: timeout}
}

// Connect opens and pings a PostgreSQL connection.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// Insert persists one admission decision.
func (r *auditRepo) Insert(ctx context.Context, record persistence.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	detailsJSON, err := json.Marshal(record.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal decision details: %w", err)
	}

	query := `
		INSERT INTO risk_decisions (ts, strategy_id, symbol, side, status, reason, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := r.db.ExecContext(ctx, query,
		record.Timestamp, record.StrategyID, record.Symbol, record.Side,
		record.Status, record.Reason, detailsJSON); err != nil {
		return fmt.Errorf("failed to insert decision record: %w", err)
	}
	return nil
}

// ListRange retrieves decisions within the time window, newest first.
func (r *auditRepo) ListRange(ctx context.Context, tr persistence.TimeRange, limit int) ([]persistence.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ts, strategy_id, symbol, side, status, reason, details, created_at
		FROM risk_decisions
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision records: %w", err)
	}
	defer rows.Close()

	var records []persistence.DecisionRecord
	for rows.Next() {
		var record persistence.DecisionRecord
		var detailsJSON []byte
		if err := rows.Scan(&record.Timestamp, &record.StrategyID, &record.Symbol,
			&record.Side, &record.Status, &record.Reason, &detailsJSON, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision record: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &record.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal decision details: %w", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision rows: %w", err)
	}

	return records, nil
}

// CountByStatus returns the decision distribution within the time window.
func (r *auditRepo) CountByStatus(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT status, COUNT(*)
		FROM risk_decisions
		WHERE ts >= $1 AND ts <= $2
		GROUP BY status
		ORDER BY status`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan decision stats: %w", err)
		}
		stats[status] = count
	}
	return stats, nil
}
