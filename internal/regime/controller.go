package regime

import (
	"sync"
	"time"
)

// Strategy archetypes the allocator distributes capital across.
const (
	StrategyMomentum      = "momentum"
	StrategyMeanReversion = "mean_reversion"
	StrategyBreakout      = "breakout"
	StrategyCarry         = "carry"
)

// StrategyAllocation is the capital split across strategy archetypes for the
// current regime. Weights sum to 1.
type StrategyAllocation struct {
	Regime       RegimeType         `json:"regime"`
	Weights      map[string]float64 `json:"weights"`
	TotalCapital float64            `json:"total_capital"`
	Allocations  map[string]float64 `json:"allocations"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Guidance summarizes how aggressively strategies should trade in the
// current regime.
type Guidance struct {
	Regime                   RegimeType       `json:"regime"`
	Volatility               VolatilityRegime `json:"volatility"`
	Confidence               float64          `json:"confidence"`
	ActiveStrategies         []string         `json:"active_strategies"`
	PositionSizingMultiplier float64          `json:"position_sizing_multiplier"`
	LeverageMultiplier       float64          `json:"leverage_multiplier"`
}

// regimeWeights is the static regime -> strategy weight table. Unknown
// regimes fall back to equal weights.
var regimeWeights = map[RegimeType]map[string]float64{
	RegimeTrendingBull: {
		StrategyMomentum:      0.50,
		StrategyMeanReversion: 0.00,
		StrategyBreakout:      0.30,
		StrategyCarry:         0.20,
	},
	RegimeTrendingBear: {
		StrategyMomentum:      0.40,
		StrategyMeanReversion: 0.20,
		StrategyBreakout:      0.30,
		StrategyCarry:         0.10,
	},
	RegimeMeanReverting: {
		StrategyMomentum:      0.10,
		StrategyMeanReversion: 0.60,
		StrategyBreakout:      0.00,
		StrategyCarry:         0.30,
	},
	RegimeChoppy: {
		StrategyMomentum:      0.10,
		StrategyMeanReversion: 0.40,
		StrategyBreakout:      0.10,
		StrategyCarry:         0.40,
	},
	RegimeUnknown: {
		StrategyMomentum:      0.25,
		StrategyMeanReversion: 0.25,
		StrategyBreakout:      0.25,
		StrategyCarry:         0.25,
	},
}

// sizing multipliers by regime before the volatility haircut.
var regimeSizing = map[RegimeType]float64{
	RegimeTrendingBull:  1.0,
	RegimeTrendingBear:  0.8,
	RegimeMeanReverting: 0.8,
	RegimeChoppy:        0.5,
	RegimeUnknown:       0.5,
}

// Controller turns regime state into strategy weights and sizing guidance.
// Pure apart from a cached current allocation.
type Controller struct {
	mu      sync.Mutex
	current *StrategyAllocation
}

// NewController creates a regime controller.
func NewController() *Controller {
	return &Controller{}
}

// UpdateAllocation computes the strategy capital split for the given regime
// state and caches it as current. A nil state uses equal weights.
func (c *Controller) UpdateAllocation(totalCapital float64, state *RegimeState) StrategyAllocation {
	regime := RegimeUnknown
	if state != nil {
		regime = state.Regime
	}

	weights := normalizeWeights(lookupWeights(regime))
	allocations := make(map[string]float64, len(weights))
	for strategy, w := range weights {
		allocations[strategy] = totalCapital * w
	}

	allocation := StrategyAllocation{
		Regime:       regime,
		Weights:      weights,
		TotalCapital: totalCapital,
		Allocations:  allocations,
		UpdatedAt:    time.Now(),
	}

	c.mu.Lock()
	c.current = &allocation
	c.mu.Unlock()

	return allocation
}

// CurrentAllocation returns the cached allocation, or false when
// UpdateAllocation has not run yet.
func (c *Controller) CurrentAllocation() (StrategyAllocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return StrategyAllocation{}, false
	}
	return *c.current, true
}

// RegimeGuidance derives sizing and leverage guidance from the regime state.
// High or extreme volatility haircuts sizing by 0.7 and leverage by 0.8.
func (c *Controller) RegimeGuidance(state *RegimeState) Guidance {
	regime := RegimeUnknown
	volatility := VolMedium
	confidence := 0.0
	if state != nil {
		regime = state.Regime
		volatility = state.VolatilityRegime
		confidence = state.Confidence
	}

	sizing := regimeSizing[regime]
	leverage := 1.0
	if volatility == VolHigh || volatility == VolExtreme {
		sizing *= 0.7
		leverage *= 0.8
	}

	var active []string
	for _, strategy := range []string{StrategyMomentum, StrategyMeanReversion, StrategyBreakout, StrategyCarry} {
		if lookupWeights(regime)[strategy] > 0 {
			active = append(active, strategy)
		}
	}

	return Guidance{
		Regime:                   regime,
		Volatility:               volatility,
		Confidence:               confidence,
		ActiveStrategies:         active,
		PositionSizingMultiplier: sizing,
		LeverageMultiplier:       leverage,
	}
}

// ShouldActivateStrategy reports whether the weight table assigns the
// strategy any capital in the given regime.
func (c *Controller) ShouldActivateStrategy(strategy string, state *RegimeState) bool {
	regime := RegimeUnknown
	if state != nil {
		regime = state.Regime
	}
	return lookupWeights(regime)[strategy] > 0
}

func lookupWeights(regime RegimeType) map[string]float64 {
	if weights, ok := regimeWeights[regime]; ok {
		return weights
	}
	return regimeWeights[RegimeUnknown]
}

func normalizeWeights(weights map[string]float64) map[string]float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}

	out := make(map[string]float64, len(weights))
	if total == 0 {
		equal := 1.0 / float64(len(weights))
		for strategy := range weights {
			out[strategy] = equal
		}
		return out
	}
	for strategy, w := range weights {
		out[strategy] = w / total
	}
	return out
}
