package market

import (
	"math/rand"
	"time"
)

// SyntheticSeries generates a random-walk candle slice for local simulation.
// A fixed seed makes runs reproducible; pass 0 to derive one from the clock.
func SyntheticSeries(symbol string, count int, startPrice, step float64, interval time.Duration, seed int64) []Candle {
	if count <= 0 {
		return nil
	}
	if startPrice <= 0 {
		startPrice = 100.0
	}
	if step <= 0 {
		step = 0.5
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed + int64(len(symbol))))

	candles := make([]Candle, 0, count)
	price := startPrice
	openTime := time.Now().UTC().Add(-time.Duration(count) * interval)

	for i := 0; i < count; i++ {
		open := price
		// simple random walk
		price += (rng.Float64()*2 - 1) * step
		if price <= 0 {
			price = open
		}
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		wiggle := rng.Float64() * step / 2
		candles = append(candles, Candle{
			OpenTime: openTime.Add(time.Duration(i) * interval),
			Open:     open,
			High:     high + wiggle,
			Low:      low - wiggle,
			Close:    price,
			Volume:   100 + rng.Float64()*900,
		})
	}
	return candles
}
