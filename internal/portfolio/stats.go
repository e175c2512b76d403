package portfolio

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SampleStdDev returns the n-1 standard deviation of xs, or 0 for fewer
// than two observations.
func SampleStdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// MaxDrawdown compounds returns into a value path and returns the largest
// peak-to-trough decline as a positive fraction of the peak. The path starts
// at 1, so the result does not depend on the starting value.
func MaxDrawdown(returns []float64) float64 {
	value, peak := 1.0, 1.0
	var worst float64
	for _, r := range returns {
		value *= 1 + r
		if value > peak {
			peak = value
		}
		if peak > 0 {
			if dd := (peak - value) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// HistoricalVaR returns the historical-simulation value at risk: the return
// at rank floor((1-confidence)*n) of the ascending sort, negated. The rank
// is clamped to the valid range. An empty series gives 0.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - confidence) * float64(n)))
	idx = min(max(idx, 0), n-1)
	return -sorted[idx]
}

// Beta returns cov(p, m) / var(m) over the aligned tails of both series,
// using sample (n-1) moments. It returns 1 when fewer than two points align
// or the market variance is zero.
func Beta(portfolio, market []float64) float64 {
	n := min(len(portfolio), len(market))
	if n < 2 {
		return 1
	}
	p := portfolio[len(portfolio)-n:]
	m := market[len(market)-n:]
	pm, mm := Mean(p), Mean(m)

	var cov, variance float64
	for i := 0; i < n; i++ {
		dm := m[i] - mm
		cov += (p[i] - pm) * dm
		variance += dm * dm
	}
	if variance == 0 {
		return 1
	}
	return cov / variance
}
