package riskclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantalpha/riskgate/internal/config"
	httpapi "github.com/quantalpha/riskgate/internal/http"
	"github.com/quantalpha/riskgate/internal/risk"
)

func testClientConfig(baseURL string) config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.RequestTimeout = config.Duration(2 * time.Second)
	cfg.BackoffBase = config.Duration(1 * time.Millisecond)
	cfg.CacheTTL = config.Duration(200 * time.Millisecond)
	// High threshold so retry tests do not trip the breaker.
	cfg.BreakerMinRequests = 1000
	return cfg
}

func testOrder() risk.OrderRequest {
	return risk.OrderRequest{
		StrategyID:    "momentum",
		Symbol:        "BTC-USD",
		Side:          "buy",
		Quantity:      0.02,
		Price:         50000,
		Leverage:      2.0,
		CurrentNAV:    100000,
		PositionValue: 5000,
	}
}

func approvalServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/validate", r.URL.Path)

		var req httpapi.ValidateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		json.NewEncoder(w).Encode(httpapi.ValidateResponse{
			Status:   string(risk.StatusApproved),
			Approved: true,
			Reason:   "within limits",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestValidateOrder_Success(t *testing.T) {
	var hits atomic.Int64
	srv := approvalServer(t, &hits)
	c := New(testClientConfig(srv.URL), nil)

	verdict := c.ValidateOrder(context.Background(), testOrder())

	assert.True(t, verdict.Approved)
	assert.Equal(t, risk.StatusApproved, verdict.Status)
	assert.Equal(t, int64(1), hits.Load())
}

func TestValidateOrder_CacheHit(t *testing.T) {
	var hits atomic.Int64
	srv := approvalServer(t, &hits)
	c := New(testClientConfig(srv.URL), nil)

	order := testOrder()
	c.ValidateOrder(context.Background(), order)
	verdict := c.ValidateOrder(context.Background(), order)

	assert.True(t, verdict.Approved)
	assert.Equal(t, int64(1), hits.Load(), "identical order within TTL must be served from cache")
}

func TestValidateOrder_CacheKeyedByOrder(t *testing.T) {
	var hits atomic.Int64
	srv := approvalServer(t, &hits)
	c := New(testClientConfig(srv.URL), nil)

	c.ValidateOrder(context.Background(), testOrder())

	other := testOrder()
	other.Quantity = 0.01
	c.ValidateOrder(context.Background(), other)

	assert.Equal(t, int64(2), hits.Load(), "a different order must not share a cache entry")
}

func TestValidateOrder_CacheExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := approvalServer(t, &hits)

	cfg := testClientConfig(srv.URL)
	cfg.CacheTTL = config.Duration(30 * time.Millisecond)
	c := New(cfg, nil)

	order := testOrder()
	c.ValidateOrder(context.Background(), order)
	time.Sleep(50 * time.Millisecond)
	c.ValidateOrder(context.Background(), order)

	assert.Equal(t, int64(2), hits.Load(), "expired entry must refetch")
}

func TestValidateOrder_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(httpapi.ValidateResponse{
			Status:   string(risk.StatusApproved),
			Approved: true,
			Reason:   "within limits",
		})
	}))
	defer srv.Close()

	c := New(testClientConfig(srv.URL), nil)

	verdict := c.ValidateOrder(context.Background(), testOrder())

	assert.True(t, verdict.Approved)
	assert.Equal(t, int64(3), hits.Load())
}

func TestValidateOrder_FailClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testClientConfig(srv.URL)
	cfg.FailClosed = true
	c := New(cfg, nil)

	verdict := c.ValidateOrder(context.Background(), testOrder())

	assert.False(t, verdict.Approved)
	assert.Equal(t, risk.StatusRejected, verdict.Status)
	assert.Contains(t, verdict.Reason, "fail-closed")
}

func TestValidateOrder_FailOpen(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close() // unreachable immediately

	cfg := testClientConfig(srv.URL)
	cfg.FailClosed = false
	cfg.MaxRetries = 1
	c := New(cfg, nil)

	verdict := c.ValidateOrder(context.Background(), testOrder())

	assert.True(t, verdict.Approved)
	assert.Equal(t, risk.StatusApproved, verdict.Status)
	assert.Contains(t, verdict.Reason, "fail-open")
}

func TestValidateOrder_FailureVerdictsNotCached(t *testing.T) {
	var healthy atomic.Bool
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(httpapi.ValidateResponse{
			Status:   string(risk.StatusApproved),
			Approved: true,
			Reason:   "within limits",
		})
	}))
	defer srv.Close()

	cfg := testClientConfig(srv.URL)
	cfg.MaxRetries = 0
	c := New(cfg, nil)

	order := testOrder()
	verdict := c.ValidateOrder(context.Background(), order)
	require.False(t, verdict.Approved)

	healthy.Store(true)
	verdict = c.ValidateOrder(context.Background(), order)

	assert.True(t, verdict.Approved, "recovery must be visible immediately, policy verdicts are never cached")
}

func TestValidateOrder_BreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testClientConfig(srv.URL)
	cfg.MaxRetries = 0
	cfg.BreakerMinRequests = 4
	cfg.BreakerFailureRate = 0.5
	c := New(cfg, nil)

	for i := 0; i < 6; i++ {
		order := testOrder()
		order.Quantity = float64(i+1) * 0.01 // defeat the cache
		verdict := c.ValidateOrder(context.Background(), order)
		assert.False(t, verdict.Approved)
	}

	assert.Equal(t, gobreaker.StateOpen, c.breaker.State())
}

func TestValidateOrder_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testClientConfig(srv.URL)
	cfg.FailClosed = true
	c := New(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	verdict := c.ValidateOrder(ctx, testOrder())
	assert.False(t, verdict.Approved, "a cancelled call settles by the fail policy")
}
