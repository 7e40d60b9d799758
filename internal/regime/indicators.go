package regime

import (
	"math"
)

const minutesPerYear = 365.0 * 24.0 * 60.0

// atr computes the average true range over the trailing period using
// close-to-close moves. Returns 0 when there is not enough history.
func atr(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 0
	}
	sum := 0.0
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		sum += math.Abs(prices[i] - prices[i-1])
	}
	return sum / float64(period)
}

// directionalMovement computes a simplified ADX from up/down move sums over
// the trailing period, plus the directional trend strength in [0, 1].
func directionalMovement(prices []float64, period int) (adx, trendStrength float64) {
	if len(prices) < period+1 {
		return 0, 0
	}

	var plusDM, minusDM, trSum float64
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		move := prices[i] - prices[i-1]
		if move > 0 {
			plusDM += move
		} else {
			minusDM += -move
		}
		trSum += math.Abs(move)
	}
	if trSum == 0 {
		return 0, 0
	}

	plusDI := 100 * plusDM / trSum
	minusDI := 100 * minusDM / trSum
	diSum := plusDI + minusDI
	if diSum == 0 {
		return 0, 0
	}

	dx := 100 * math.Abs(plusDI-minusDI) / diSum
	return dx, math.Abs(plusDI-minusDI) / diSum
}

// realizedVol computes annualized volatility from the standard deviation of
// simple returns over the trailing window.
func realizedVol(prices []float64, window int, timeframeMinutes float64) float64 {
	if len(prices) < window+1 || timeframeMinutes <= 0 {
		return 0
	}

	start := len(prices) - window
	returns := make([]float64, 0, window)
	for i := start; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	periodsPerYear := minutesPerYear / timeframeMinutes
	return math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}

// momentum returns the percentage change over the trailing period.
func momentum(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 0
	}
	base := prices[len(prices)-1-period]
	if base == 0 {
		return 0
	}
	return (prices[len(prices)-1] - base) / base * 100
}

// hurstExponent estimates the Hurst exponent via rescaled-range analysis over
// the trailing window. Returns -1 when the window is too short for a stable
// estimate; callers treat negative values as "no signal".
func hurstExponent(prices []float64, window int) float64 {
	if window < 16 || len(prices) < window+1 {
		return -1
	}

	start := len(prices) - window
	returns := make([]float64, 0, window)
	for i := start; i < len(prices); i++ {
		if prices[i-1] == 0 {
			return -1
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	n := len(returns)
	if n < 16 {
		return -1
	}

	// Rescaled range at several sub-series lengths, then a log-log fit of
	// R/S against length gives H as the slope.
	var logN, logRS []float64
	for size := 8; size <= n/2; size *= 2 {
		rs := avgRescaledRange(returns, size)
		if rs <= 0 {
			continue
		}
		logN = append(logN, math.Log(float64(size)))
		logRS = append(logRS, math.Log(rs))
	}
	if len(logN) < 2 {
		return -1
	}

	slope, ok := linearSlope(logN, logRS)
	if !ok {
		return -1
	}
	// Clamp to the meaningful range; noise can push the fit slightly outside.
	return math.Max(0, math.Min(1, slope))
}

// avgRescaledRange computes the mean R/S statistic across consecutive
// sub-series of the given size.
func avgRescaledRange(returns []float64, size int) float64 {
	chunks := len(returns) / size
	if chunks == 0 {
		return 0
	}

	total := 0.0
	counted := 0
	for c := 0; c < chunks; c++ {
		chunk := returns[c*size : (c+1)*size]

		mean := 0.0
		for _, r := range chunk {
			mean += r
		}
		mean /= float64(size)

		var cum, minCum, maxCum, variance float64
		for _, r := range chunk {
			d := r - mean
			cum += d
			if cum < minCum {
				minCum = cum
			}
			if cum > maxCum {
				maxCum = cum
			}
			variance += d * d
		}
		std := math.Sqrt(variance / float64(size))
		if std == 0 {
			continue
		}
		total += (maxCum - minCum) / std
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

// linearSlope fits y = a + b*x by least squares and returns b.
func linearSlope(xs, ys []float64) (float64, bool) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denom, true
}

// classifyStructure buckets the swing pattern from the ratio of up-moves to
// down-moves over the lookback window.
func classifyStructure(prices []float64, lookback int) MarketStructure {
	if len(prices) < lookback+1 {
		return StructureChoppy
	}

	up, down := 0, 0
	start := len(prices) - lookback
	for i := start; i < len(prices); i++ {
		switch {
		case prices[i] > prices[i-1]:
			up++
		case prices[i] < prices[i-1]:
			down++
		}
	}
	total := up + down
	if total == 0 {
		return StructureChoppy
	}

	ratio := float64(up) / float64(total)
	switch {
	case ratio > 0.6:
		return StructureHigherHighs
	case ratio < 0.4:
		return StructureLowerLows
	default:
		return StructureChoppy
	}
}

// classifyVolatility buckets annualized realized volatility.
func classifyVolatility(annualizedVol float64) VolatilityRegime {
	switch {
	case annualizedVol < 0.30:
		return VolLow
	case annualizedVol < 0.60:
		return VolMedium
	case annualizedVol < 1.00:
		return VolHigh
	default:
		return VolExtreme
	}
}

// hasInvalidValues reports whether the series contains NaN or Inf.
func hasInvalidValues(prices []float64) bool {
	for _, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return true
		}
	}
	return false
}
