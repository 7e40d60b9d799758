package persistence

import (
	"context"
	"time"
)

// DecisionRecord is one admission verdict persisted for operator forensics.
type DecisionRecord struct {
	Timestamp  time.Time          `db:"ts" json:"ts"`
	StrategyID string             `db:"strategy_id" json:"strategy_id"`
	Symbol     string             `db:"symbol" json:"symbol"`
	Side       string             `db:"side" json:"side"`
	Status     string             `db:"status" json:"status"`
	Reason     string             `db:"reason" json:"reason"`
	Details    map[string]float64 `db:"-" json:"details"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
}

// TimeRange bounds a history query.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// AuditRepo persists admission decisions. The audit trail is advisory:
// write failures are logged and never block admission.
type AuditRepo interface {
	Insert(ctx context.Context, record DecisionRecord) error
	ListRange(ctx context.Context, tr TimeRange, limit int) ([]DecisionRecord, error)
	CountByStatus(ctx context.Context, tr TimeRange) (map[string]int64, error)
}
