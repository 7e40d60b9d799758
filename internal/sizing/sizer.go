package sizing

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantalpha/riskgate/internal/config"
)

// maxKellyFraction caps the raw Kelly output. Full Kelly at the top of the
// range is already aggressive; anything above this is treated as a
// degenerate sample.
const maxKellyFraction = 0.95

// syntheticWinRate stands in for a perfect win rate when the synthetic
// loss substitution applies, keeping the Kelly input inside its open
// interval so an all-wins sample still sizes to a finite clamped fraction.
const syntheticWinRate = 0.99

// ClosedTrade is one completed trade supplied by the trade ledger. Only
// sell-side (closing) trades carry realized P&L.
type ClosedTrade struct {
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	PnL      float64   `json:"pnl"`
	ClosedAt time.Time `json:"closed_at"`
}

// TradeHistoryStats summarizes a bounded window of closed trades.
type TradeHistoryStats struct {
	WinRate    float64 `json:"win_rate"`
	AvgWin     float64 `json:"avg_win"`
	AvgLoss    float64 `json:"avg_loss"`
	SampleSize int     `json:"sample_size"`
}

// Sizer computes Kelly-criterion notional position sizes. Stateless apart
// from its configuration; safe for concurrent use.
type Sizer struct {
	cfg config.SizerConfig
}

// NewSizer creates a position sizer.
func NewSizer(cfg config.SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// KellyFraction computes the growth-optimal bet fraction
// f = (p*W - q) / W with W = avgWin/|avgLoss| and q = 1-p, clamped to
// [0, 0.95]. Any invalid input returns 0: winRate outside (0, 1),
// non-positive avgWin, non-negative avgLoss, or a near-zero loss.
func (s *Sizer) KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 {
		return 0
	}
	if avgWin <= 0 || avgLoss >= 0 {
		return 0
	}
	lossMagnitude := math.Abs(avgLoss)
	if lossMagnitude < 1e-9 {
		return 0
	}

	payoff := avgWin / lossMagnitude
	fraction := (winRate*payoff - (1 - winRate)) / payoff

	if fraction < 0 {
		return 0
	}
	if fraction > maxKellyFraction {
		return maxKellyFraction
	}
	return fraction
}

// BuildStats derives win/loss statistics from the most recent lookback
// window of closing trades, newest last.
func (s *Sizer) BuildStats(trades []ClosedTrade) TradeHistoryStats {
	closed := make([]ClosedTrade, 0, len(trades))
	for _, t := range trades {
		if t.Side == "sell" {
			closed = append(closed, t)
		}
	}
	if len(closed) > s.cfg.LookbackTrades {
		closed = closed[len(closed)-s.cfg.LookbackTrades:]
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range closed {
		if t.PnL > 0 {
			wins++
			winSum += t.PnL
		} else if t.PnL < 0 {
			losses++
			lossSum += t.PnL
		}
	}

	stats := TradeHistoryStats{SampleSize: len(closed)}
	if len(closed) > 0 {
		stats.WinRate = float64(wins) / float64(len(closed))
	}
	if wins > 0 {
		stats.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = lossSum / float64(losses)
	}
	return stats
}

// OptimalPositionSize computes the candidate notional size for the next
// trade. regimeMultiplier scales the Kelly-derived size (pass 1 when no
// regime guidance applies; non-positive values are treated as 1).
//
// With fewer than MinTrades observations it blends 30% Kelly-derived size
// with 70% of the default size and never exceeds the default: thin evidence
// leans conservative. A sample that contains only losses returns 0.
func (s *Sizer) OptimalPositionSize(balance float64, recentTrades []ClosedTrade, existingPositions int, regimeMultiplier float64) float64 {
	if balance <= 0 {
		return 0
	}
	if regimeMultiplier <= 0 {
		regimeMultiplier = 1
	}

	stats := s.BuildStats(recentTrades)
	defaultSize := balance * s.cfg.MaxPositionSize

	kelly := s.kellyFromStats(stats)

	if stats.SampleSize < s.cfg.MinTrades {
		blended := 0.3*(balance*kelly*s.cfg.SafetyFactor) + 0.7*defaultSize
		size := math.Min(blended, defaultSize)
		return s.applyCaps(balance, size*regimeMultiplier, existingPositions)
	}

	// Every observed trade lost: no edge, do not trade.
	if stats.AvgWin == 0 && stats.AvgLoss < 0 {
		log.Warn().
			Int("sample_size", stats.SampleSize).
			Msg("all-loss trade history, sizing to zero")
		return 0
	}

	size := balance * kelly * s.cfg.SafetyFactor * regimeMultiplier
	return s.applyCaps(balance, size, existingPositions)
}

// kellyFromStats computes the Kelly fraction, substituting a synthetic
// conservative loss of 0.1x the average win when no losses have been
// observed yet. A sample of nothing but wins is never treated as riskless:
// the win rate is pulled just below one so the formula still yields a
// positive clamped size.
func (s *Sizer) kellyFromStats(stats TradeHistoryStats) float64 {
	winRate := stats.WinRate
	avgLoss := stats.AvgLoss
	if avgLoss == 0 && stats.AvgWin > 0 {
		avgLoss = -0.1 * stats.AvgWin
		if winRate >= 1 {
			winRate = syntheticWinRate
		}
	}
	return s.KellyFraction(winRate, stats.AvgWin, avgLoss)
}

// applyCaps discounts for correlated open positions and enforces the
// per-position and per-trade-risk caps.
func (s *Sizer) applyCaps(balance, size float64, existingPositions int) float64 {
	if size <= 0 {
		return 0
	}
	if existingPositions > 0 {
		size /= math.Sqrt(float64(existingPositions) + 1)
	}

	size = math.Min(size, balance*s.cfg.MaxPositionSize)
	size = math.Min(size, balance*s.cfg.MaxRiskPerTrade)
	return size
}
