package validator

import (
	"math"
	"math/rand"
	"time"

	"genx-core/internal/indicators"
	"genx-core/internal/market"
)

// Trend score components. Price above both moving averages with a positive
// short-horizon return scores 1.0; the full inverse scores -1.0.
const (
	shortMAWeight  = 0.4
	longMAWeight   = 0.3
	momentumWeight = 0.3

	// directionThreshold separates a real directional read from noise.
	directionThreshold = 0.3

	// volPenaltyScale converts per-bar return volatility into a confidence
	// haircut, capped at half the raw confidence.
	volPenaltyScale = 10.0
	maxVolPenalty   = 0.5
)

// analyzeCandles scores one timeframe's candles: last close against a short
// and a long SMA plus a short-horizon return, with confidence discounted by
// recent volatility.
func analyzeCandles(timeframe string, candles []market.Candle, shortPeriod, longPeriod int) (TimeframeSignal, bool) {
	closes := market.Closes(candles)
	if len(closes) < longPeriod {
		return TimeframeSignal{}, false
	}

	last := closes[len(closes)-1]
	smaShort := indicators.SMA(closes, shortPeriod)
	smaLong := indicators.SMA(closes, longPeriod)
	momentum := indicators.Change(closes, shortPeriod)
	vol := indicators.Volatility(closes, longPeriod)

	score := 0.0
	switch {
	case last > smaShort:
		score += shortMAWeight
	case last < smaShort:
		score -= shortMAWeight
	}
	switch {
	case last > smaLong:
		score += longMAWeight
	case last < smaLong:
		score -= longMAWeight
	}
	switch {
	case momentum > 0:
		score += momentumWeight
	case momentum < 0:
		score -= momentumWeight
	}

	direction := DirectionNeutral
	if score > directionThreshold {
		direction = DirectionBuy
	} else if score < -directionThreshold {
		direction = DirectionSell
	}

	strength := math.Abs(score)
	penalty := math.Min(vol*volPenaltyScale, maxVolPenalty)
	confidence := clamp(strength*(1-penalty), 0, 1)

	return TimeframeSignal{
		Timeframe:  timeframe,
		Direction:  direction,
		Confidence: confidence,
		Strength:   strength,
		ObservedAt: time.Now().UTC(),
	}, true
}

// synthesizeSignal derives a timeframe signal by perturbing the base signal.
// Only reachable when the validator was built with Synthetic enabled.
func synthesizeSignal(timeframe string, base BaseSignal, rng *rand.Rand) TimeframeSignal {
	jitter := rng.Float64()*0.2 - 0.1
	score := clamp(base.Score+jitter, -1, 1)

	direction := DirectionNeutral
	if score > 0.1 {
		direction = DirectionBuy
	} else if score < -0.1 {
		direction = DirectionSell
	}

	confidence := clamp(base.Confidence+rng.Float64()*0.2-0.1, 0.05, 0.95)

	return TimeframeSignal{
		Timeframe:  timeframe,
		Direction:  direction,
		Confidence: confidence,
		Strength:   math.Abs(score),
		ObservedAt: time.Now().UTC(),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
