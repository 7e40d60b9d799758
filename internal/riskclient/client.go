package riskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/quantalpha/riskgate/internal/config"
	httpapi "github.com/quantalpha/riskgate/internal/http"
	"github.com/quantalpha/riskgate/internal/metrics"
	"github.com/quantalpha/riskgate/internal/risk"
)

// Client is the resilience wrapper around the risk service's network
// boundary: identical validation requests are served from a short TTL
// cache, transport calls go through a circuit breaker with retry and
// jittered exponential backoff, and any unresolvable failure is settled by
// the fail-open/fail-closed policy. The controller behind the service is
// the authority; this wrapper only decides what to do when the authority
// cannot be reached.
type Client struct {
	cfg     config.ClientConfig
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Registry

	mu    sync.Mutex
	cache map[string]cachedVerdict
}

type cachedVerdict struct {
	verdict   risk.Verdict
	expiresAt time.Time
}

// New creates a risk client. The metrics registry may be nil.
func New(cfg config.ClientConfig, reg *metrics.Registry) *Client {
	settings := gobreaker.Settings{
		Name:        "risk-service",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval.Std(),
		Timeout:     cfg.BreakerTimeout.Std(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= cfg.BreakerFailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("risk service circuit breaker state change")
		},
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.RequestTimeout.Std()},
		breaker: gobreaker.NewCircuitBreaker(settings),
		metrics: reg,
		cache:   make(map[string]cachedVerdict),
	}
}

// ValidateOrder submits the order for admission. It never returns an
// error: when the service cannot be reached the configured policy decides
// the verdict, and the reason says so explicitly.
func (c *Client) ValidateOrder(ctx context.Context, order risk.OrderRequest) risk.Verdict {
	key := cacheKey(order)
	if verdict, ok := c.cachedVerdict(key); ok {
		c.metrics.ClientCacheHitsInc()
		return verdict
	}
	c.metrics.ClientCacheMissesInc()

	verdict, err := c.callValidate(ctx, order)
	if err != nil {
		return c.applyFailPolicy(order, err)
	}

	c.storeVerdict(key, verdict)
	return verdict
}

func (c *Client) cachedVerdict(key string) (risk.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.cache, key)
		return risk.Verdict{}, false
	}
	return entry.verdict, true
}

func (c *Client) storeVerdict(key string, verdict risk.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Lazy pruning keeps the map bounded under request churn.
	now := time.Now()
	if len(c.cache) > 1024 {
		for k, entry := range c.cache {
			if now.After(entry.expiresAt) {
				delete(c.cache, k)
			}
		}
	}
	c.cache[key] = cachedVerdict{verdict: verdict, expiresAt: now.Add(c.cfg.CacheTTL.Std())}
}

func cacheKey(order risk.OrderRequest) string {
	return fmt.Sprintf("%s|%s|%s|%.8f|%.8f|%.4f|%.2f|%.2f",
		order.StrategyID, order.Symbol, order.Side,
		order.Quantity, order.Price, order.Leverage,
		order.CurrentNAV, order.PositionValue)
}

// callValidate performs the HTTP call through the circuit breaker with
// bounded retries.
func (c *Client) callValidate(ctx context.Context, order risk.OrderRequest) (risk.Verdict, error) {
	req := httpapi.ValidateRequest{
		StrategyID:    order.StrategyID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         order.Price,
		Leverage:      order.Leverage,
		CurrentNAV:    order.CurrentNAV,
		PositionValue: order.PositionValue,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return risk.Verdict{}, fmt.Errorf("failed to marshal validation request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithJitter(ctx, c.cfg.BackoffBase.Std(), attempt); err != nil {
				return risk.Verdict{}, err
			}
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.postValidate(ctx, payload)
		})
		if err == nil {
			return result.(risk.Verdict), nil
		}
		lastErr = err

		// An open breaker will not recover within this retry budget.
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	return risk.Verdict{}, lastErr
}

func (c *Client) postValidate(ctx context.Context, payload []byte) (risk.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout.Std())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/validate", bytes.NewReader(payload))
	if err != nil {
		return risk.Verdict{}, fmt.Errorf("failed to build validation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return risk.Verdict{}, fmt.Errorf("risk service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return risk.Verdict{}, fmt.Errorf("failed to read risk service response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return risk.Verdict{}, fmt.Errorf("risk service returned status %d: %s", resp.StatusCode, string(body))
	}

	var vr httpapi.ValidateResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return risk.Verdict{}, fmt.Errorf("failed to decode risk service response: %w", err)
	}

	return risk.Verdict{
		Status:    risk.Status(vr.Status),
		Approved:  vr.Approved,
		Reason:    vr.Reason,
		Details:   vr.Details,
		Timestamp: time.Now(),
	}, nil
}

// applyFailPolicy settles an unreachable-authority outcome. Fail-closed is
// the default and the only safe mode for live trading; fail-open exists for
// paper trading and backtests where availability beats safety.
func (c *Client) applyFailPolicy(order risk.OrderRequest, cause error) risk.Verdict {
	if c.cfg.FailClosed {
		log.Error().Err(cause).
			Str("strategy", order.StrategyID).Str("symbol", order.Symbol).
			Msg("risk service unreachable, rejecting order (fail-closed)")
		c.metrics.ClientFailPolicyInc("fail_closed_reject")
		return risk.Verdict{
			Status:    risk.StatusRejected,
			Approved:  false,
			Reason:    fmt.Sprintf("risk service unavailable, fail-closed policy: %v", cause),
			Timestamp: time.Now(),
		}
	}

	log.Warn().Err(cause).
		Str("strategy", order.StrategyID).Str("symbol", order.Symbol).
		Msg("risk service unreachable, approving order (fail-open)")
	c.metrics.ClientFailPolicyInc("fail_open_approve")
	return risk.Verdict{
		Status:    risk.StatusApproved,
		Approved:  true,
		Reason:    fmt.Sprintf("risk service unavailable, fail-open policy: %v", cause),
		Timestamp: time.Now(),
	}
}

// sleepWithJitter waits for base * 2^(attempt-1) plus up to 50% jitter, or
// until the context is cancelled.
func sleepWithJitter(ctx context.Context, base time.Duration, attempt int) error {
	backoff := base << uint(attempt-1)
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff + jitter):
		return nil
	}
}
