// Package analytics computes downside-risk-adjusted performance from
// realized trade returns.
package analytics

import (
	"errors"
	"math"
)

// ErrInsufficientData is returned when a return series is too short for a
// meaningful ratio.
var ErrInsufficientData = errors.New("analytics: at least 2 returns required")

// RatioCap bounds the Sortino ratio in reports. A series with no losing
// periods has an infinite ratio; reports show the cap instead.
const RatioCap = 100.0

// Ratio computes the annualized Sortino ratio of a per-period return series
// against a per-period target return. Mean and downside deviation run over
// the full series; only samples below target contribute squared deviations.
// A series with zero downside deviation yields +Inf.
func Ratio(returns []float64, target, periodsPerYear float64) (float64, error) {
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	downside := DownsideDeviation(returns, target)

	annualMean := mean * periodsPerYear
	annualTarget := target * periodsPerYear
	annualDownside := downside * math.Sqrt(periodsPerYear)

	if annualDownside == 0 {
		return math.Inf(1), nil
	}
	return (annualMean - annualTarget) / annualDownside, nil
}

// DownsideDeviation is the square root of the mean squared below-target
// deviation, taken over the full series length.
func DownsideDeviation(returns []float64, target float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		if r < target {
			d := r - target
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// CapRatio clamps a ratio into [-cap, cap] and maps infinities onto the cap,
// so report consumers never see a literal infinity.
func CapRatio(ratio, cap float64) float64 {
	if math.IsInf(ratio, 1) || ratio > cap {
		return cap
	}
	if math.IsInf(ratio, -1) || ratio < -cap {
		return -cap
	}
	return ratio
}
