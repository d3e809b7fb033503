// Package indicators provides the series primitives the trend test is
// built from.
package indicators

import "math"

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// StdDev calculates the population standard deviation of the last period
// values.
func StdDev(values []float64, period int) float64 {
	if period <= 1 || len(values) < period {
		return 0
	}
	window := values[len(values)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(period))
}

// Returns converts a price series into simple per-step returns.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

// Change is the relative move between the price lookback steps ago and the
// latest price. Zero when the series is too short.
func Change(prices []float64, lookback int) float64 {
	if lookback <= 0 || len(prices) <= lookback {
		return 0
	}
	prev := prices[len(prices)-1-lookback]
	if prev == 0 {
		return 0
	}
	return prices[len(prices)-1]/prev - 1
}

// Volatility is the standard deviation of per-step returns over the last
// period steps, a cheap dispersion measure for confidence penalties.
func Volatility(prices []float64, period int) float64 {
	rets := Returns(prices)
	if len(rets) == 0 {
		return 0
	}
	if period > len(rets) {
		period = len(rets)
	}
	return StdDev(rets, period)
}
