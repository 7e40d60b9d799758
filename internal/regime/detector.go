package regime

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantalpha/riskgate/internal/config"
)

// Detector classifies market state from a price history window. Raw
// classifications pass through a hysteresis state machine: the published
// regime only changes after ConfirmationBars consecutive identical raw
// detections, and a confirmed switch freezes further switches for
// CooldownBars detections.
//
// Detection output is appended to a bounded ring history. All state is
// guarded by one mutex so concurrent callers are safe.
type Detector struct {
	mu  sync.Mutex
	cfg config.DetectorConfig

	current       RegimeType
	candidate     RegimeType
	candidateRuns int
	cooldownLeft  int

	history []RegimeState
}

// NewDetector creates a regime detector with the given parameters.
func NewDetector(cfg config.DetectorConfig) *Detector {
	return &Detector{
		cfg:     cfg,
		current: RegimeUnknown,
		history: make([]RegimeState, 0, cfg.HistorySize),
	}
}

// DetectRegime classifies the market state from an ordered price series.
// Volumes and funding rate are optional context (pass nil / 0 when absent).
// The call never panics: short, NaN, or Inf input yields an unknown state at
// zero confidence without advancing the hysteresis machine.
func (d *Detector) DetectRegime(prices []float64, volumes []float64, fundingRate float64, timeframeMinutes float64) RegimeState {
	now := time.Now()

	if len(prices) < d.cfg.ATRPeriod+10 || hasInvalidValues(prices) {
		return RegimeState{
			Regime:           RegimeUnknown,
			VolatilityRegime: VolMedium,
			Confidence:       0,
			HurstExponent:    -1,
			MarketStructure:  StructureChoppy,
			Timestamp:        now,
		}
	}

	lastPrice := prices[len(prices)-1]

	atrValue := atr(prices, d.cfg.ATRPeriod)
	atrPct := 0.0
	if lastPrice != 0 {
		atrPct = atrValue / lastPrice * 100
	}

	adx, trendStrength := directionalMovement(prices, d.cfg.ADXPeriod)
	vol := realizedVol(prices, d.cfg.VolWindow, timeframeMinutes)
	mom := momentum(prices, d.cfg.MomentumPeriod)
	hurst := hurstExponent(prices, d.cfg.HurstWindow)
	structure := classifyStructure(prices, d.cfg.StructureLookback)
	volRegime := classifyVolatility(vol)

	raw := d.classify(adx, trendStrength, mom, hurst, structure)

	state := RegimeState{
		VolatilityRegime: volRegime,
		ADX:              adx,
		ATR:              atrValue,
		ATRPct:           atrPct,
		RealizedVol:      vol,
		TrendStrength:    trendStrength,
		Momentum:         mom,
		HurstExponent:    hurst,
		MarketStructure:  structure,
		Timestamp:        now,
	}
	state.Confidence = d.confidence(raw, adx, trendStrength, hurst, volRegime)

	d.mu.Lock()
	state.Regime = d.applyHysteresis(raw)
	d.appendHistory(state)
	d.mu.Unlock()

	return state
}

// classify maps indicator values to a raw regime. Priority order: Hurst
// signal first, then ADX trend confirmation, then range and chop conditions.
func (d *Detector) classify(adx, trendStrength, mom, hurst float64, structure MarketStructure) RegimeType {
	directional := structure == StructureHigherHighs || structure == StructureLowerLows

	if hurst > 0.6 && directional {
		return trendDirection(mom)
	}
	if hurst >= 0 && hurst < 0.4 {
		return RegimeMeanReverting
	}
	if adx > d.cfg.ADXThreshold && trendStrength > 0.5 && directional {
		return trendDirection(mom)
	}
	if adx < 20 && math.Abs(mom) < 1.0 {
		return RegimeMeanReverting
	}
	if structure == StructureChoppy && adx < 25 {
		return RegimeChoppy
	}
	return RegimeUnknown
}

func trendDirection(mom float64) RegimeType {
	if mom < 0 {
		return RegimeTrendingBear
	}
	return RegimeTrendingBull
}

// confidence scores a raw classification: 0.5 base, up to +0.2 for ADX above
// threshold, up to +0.2 for trend strength, +0.1 for a clear Hurst signal,
// +0.1 for low or medium volatility, capped at 1.0.
func (d *Detector) confidence(raw RegimeType, adx, trendStrength, hurst float64, volRegime VolatilityRegime) float64 {
	if raw == RegimeUnknown {
		return 0.3
	}

	conf := 0.5
	if adx > d.cfg.ADXThreshold {
		conf += math.Min(0.2, (adx-d.cfg.ADXThreshold)/100)
	}
	conf += 0.2 * trendStrength
	if hurst >= 0 && (hurst > 0.6 || hurst < 0.4) {
		conf += 0.1
	}
	if volRegime == VolLow || volRegime == VolMedium {
		conf += 0.1
	}
	return math.Min(1.0, conf)
}

// applyHysteresis advances the confirmation/cooldown state machine and
// returns the published regime. Caller holds d.mu.
func (d *Detector) applyHysteresis(raw RegimeType) RegimeType {
	if d.cooldownLeft > 0 {
		d.cooldownLeft--
		d.candidate = ""
		d.candidateRuns = 0
		return d.current
	}

	// Bootstrap: adopt the first definite classification without delay.
	if d.current == RegimeUnknown && raw != RegimeUnknown {
		d.current = raw
		d.candidate = ""
		d.candidateRuns = 0
		return d.current
	}

	if raw == d.current {
		d.candidate = ""
		d.candidateRuns = 0
		return d.current
	}

	if raw == d.candidate {
		d.candidateRuns++
	} else {
		d.candidate = raw
		d.candidateRuns = 1
	}

	if d.candidateRuns >= d.cfg.ConfirmationBars {
		log.Info().
			Str("from", d.current.String()).
			Str("to", raw.String()).
			Int("confirmation_bars", d.cfg.ConfirmationBars).
			Msg("regime switch confirmed")
		d.current = raw
		d.candidate = ""
		d.candidateRuns = 0
		d.cooldownLeft = d.cfg.CooldownBars
	}

	return d.current
}

func (d *Detector) appendHistory(state RegimeState) {
	d.history = append(d.history, state)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
}

// CurrentRegime returns the hysteresis-filtered regime.
func (d *Detector) CurrentRegime() RegimeType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// History returns up to n most recent detection states, newest last.
func (d *Detector) History(n int) []RegimeState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n <= 0 || n > len(d.history) {
		n = len(d.history)
	}
	out := make([]RegimeState, n)
	copy(out, d.history[len(d.history)-n:])
	return out
}

// Latest returns the most recent detection state, or false when no
// detection has run yet.
func (d *Detector) Latest() (RegimeState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.history) == 0 {
		return RegimeState{}, false
	}
	return d.history[len(d.history)-1], true
}
