package analytics

import (
	"math"
	"sync"
)

const defaultWindow = 256

// History is a bounded window of realized per-trade returns fed from
// execution feedback. Old samples fall off as new ones arrive.
type History struct {
	mu      sync.RWMutex
	returns []float64
	size    int
	trades  int
	wins    int
}

// Summary is a point-in-time view of the recorded performance.
type Summary struct {
	Samples           int     `json:"samples"`
	Trades            int     `json:"trades"`
	Wins              int     `json:"wins"`
	WinRate           float64 `json:"win_rate"`
	MeanReturn        float64 `json:"mean_return"`
	DownsideDeviation float64 `json:"downside_deviation"`
	SortinoRatio      float64 `json:"sortino_ratio"`
	NoDownside        bool    `json:"no_downside"`
	InsufficientData  bool    `json:"insufficient_data"`
}

// NewHistory creates a return window holding up to size samples.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultWindow
	}
	return &History{
		returns: make([]float64, 0, size),
		size:    size,
	}
}

// Record adds one realized trade: pnl in account currency against the
// balance at close. Non-positive balances are ignored.
func (h *History) Record(pnl, balance float64) {
	if balance <= 0 {
		return
	}
	ret := pnl / balance

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.returns) >= h.size {
		h.returns = h.returns[1:]
	}
	h.returns = append(h.returns, ret)
	h.trades++
	if pnl > 0 {
		h.wins++
	}
}

// Returns copies out the current window.
func (h *History) Returns() []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]float64, len(h.returns))
	copy(out, h.returns)
	return out
}

// Snapshot computes a performance summary over the current window.
func (h *History) Snapshot(target, periodsPerYear float64) Summary {
	h.mu.RLock()
	returns := make([]float64, len(h.returns))
	copy(returns, h.returns)
	trades, wins := h.trades, h.wins
	h.mu.RUnlock()

	sum := Summary{
		Samples: len(returns),
		Trades:  trades,
		Wins:    wins,
	}
	if trades > 0 {
		sum.WinRate = float64(wins) / float64(trades)
	}

	if len(returns) > 0 {
		mean := 0.0
		for _, r := range returns {
			mean += r
		}
		sum.MeanReturn = mean / float64(len(returns))
		sum.DownsideDeviation = DownsideDeviation(returns, target)
	}

	ratio, err := Ratio(returns, target, periodsPerYear)
	if err != nil {
		sum.InsufficientData = true
		return sum
	}
	sum.NoDownside = math.IsInf(ratio, 1)
	sum.SortinoRatio = CapRatio(ratio, RatioCap)
	return sum
}
