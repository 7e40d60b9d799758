package regime

import "time"

// RegimeType classifies the dominant market behavior.
type RegimeType string

const (
	RegimeTrendingBull  RegimeType = "trending_bull"
	RegimeTrendingBear  RegimeType = "trending_bear"
	RegimeMeanReverting RegimeType = "mean_reverting"
	RegimeChoppy        RegimeType = "choppy"
	RegimeUnknown       RegimeType = "unknown"
)

func (r RegimeType) String() string { return string(r) }

// IsTrending reports whether the regime is directional in either direction.
func (r RegimeType) IsTrending() bool {
	return r == RegimeTrendingBull || r == RegimeTrendingBear
}

// VolatilityRegime buckets annualized realized volatility.
type VolatilityRegime string

const (
	VolLow     VolatilityRegime = "low"
	VolMedium  VolatilityRegime = "medium"
	VolHigh    VolatilityRegime = "high"
	VolExtreme VolatilityRegime = "extreme"
)

// MarketStructure summarizes the swing pattern over the lookback window.
type MarketStructure string

const (
	StructureHigherHighs MarketStructure = "higher_highs"
	StructureLowerLows   MarketStructure = "lower_lows"
	StructureChoppy      MarketStructure = "choppy"
)

// RegimeState is the output of a single detection pass. Confidence is in
// [0, 1]; HurstExponent is negative when the window was too short to
// estimate it.
type RegimeState struct {
	Regime           RegimeType       `json:"regime"`
	VolatilityRegime VolatilityRegime `json:"volatility_regime"`
	Confidence       float64          `json:"confidence"`
	ADX              float64          `json:"adx"`
	ATR              float64          `json:"atr"`
	ATRPct           float64          `json:"atr_pct"`
	RealizedVol      float64          `json:"realized_vol"`
	TrendStrength    float64          `json:"trend_strength"`
	Momentum         float64          `json:"momentum"`
	HurstExponent    float64          `json:"hurst_exponent"`
	MarketStructure  MarketStructure  `json:"market_structure"`
	Timestamp        time.Time        `json:"timestamp"`
}
