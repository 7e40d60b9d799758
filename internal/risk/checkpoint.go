package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/quantalpha/riskgate/internal/config"
)

// CheckpointStore persists advisory RiskState snapshots to Redis. The
// checkpoint is recovery state, not authority: after a restart only the
// kill switch latch and the drawdown episode are restored, NAV and
// positions are re-synced from the portfolio accountant.
type CheckpointStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewCheckpointStore creates a checkpoint store over the given Redis client.
func NewCheckpointStore(client *redis.Client, cfg config.CheckpointConfig) *CheckpointStore {
	return &CheckpointStore{
		client: client,
		key:    cfg.Key,
		ttl:    cfg.TTL.Std(),
	}
}

// Save writes the snapshot. Best-effort by contract: callers run it outside
// the controller's lock and tolerate failure.
func (s *CheckpointStore) Save(ctx context.Context, snap StateSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal risk state snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Load reads the latest snapshot. A missing key returns ok=false with no
// error.
func (s *CheckpointStore) Load(ctx context.Context) (StateSnapshot, bool, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return StateSnapshot{}, false, nil
	}
	if err != nil {
		return StateSnapshot{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var snap StateSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return StateSnapshot{}, false, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return snap, true, nil
}

// Run periodically checkpoints the controller's state until the context is
// cancelled. Failures are logged and retried at the next tick.
func (s *CheckpointStore) Run(ctx context.Context, controller *Controller, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := controller.Snapshot()
			if err := s.Save(ctx, snap); err != nil {
				log.Warn().Err(err).Msg("risk state checkpoint failed")
			}
		}
	}
}
