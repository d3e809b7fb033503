package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// notionalCap is the hard ceiling on a single position's notional value as
// a fraction of account equity.
const notionalCap = 0.05

// Sizer converts candidate (entry, stop, confidence) inputs into bounded
// positions and enforces the portfolio-wide risk ceiling. One open position
// per symbol. All mutation happens under a single mutex so concurrent
// admissions cannot jointly overshoot the ceiling.
type Sizer struct {
	mu      sync.RWMutex
	cfg     Config
	balance float64
	open    map[string]PositionInfo
	closed  []ClosedPosition
	log     *zap.Logger
}

// NewSizer builds a Sizer. Invalid configuration is the one hard failure in
// this package; everything downstream degrades instead of erroring.
func NewSizer(cfg Config, log *zap.Logger) (*Sizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Sizer{
		cfg:     cfg,
		balance: cfg.AccountBalance,
		open:    make(map[string]PositionInfo),
		log:     log,
	}

	log.Info("position sizer initialized",
		zap.Float64("balance", cfg.AccountBalance),
		zap.String("level", string(cfg.Level)),
		zap.Float64("max_risk_per_trade", cfg.MaxRiskPerTrade),
		zap.Float64("max_portfolio_risk", cfg.MaxPortfolioRisk))

	return s, nil
}

// concentrationFactor steps the risk budget down as open positions pile up.
func concentrationFactor(openPositions int) float64 {
	switch {
	case openPositions <= 0:
		return 1.0
	case openPositions <= 3:
		return 0.8
	case openPositions <= 5:
		return 0.6
	default:
		return 0.4
	}
}

// CalculateSize converts a candidate trade into a bounded PositionInfo. It
// never fails: inputs a sane caller would not produce (non-positive prices,
// NaN) yield a minimum-size, zero-risk fallback so sizing can never block
// execution.
func (s *Sizer) CalculateSize(symbol string, entry, stop, confidence float64, openPositions int) PositionInfo {
	s.mu.RLock()
	balance := s.balance
	s.mu.RUnlock()

	if entry <= 0 || stop <= 0 ||
		math.IsNaN(entry) || math.IsNaN(stop) || math.IsNaN(confidence) ||
		math.IsInf(entry, 0) || math.IsInf(stop, 0) || math.IsInf(confidence, 0) {
		s.log.Warn("sizing fell back to minimum position",
			zap.String("symbol", symbol),
			zap.Float64("entry", entry),
			zap.Float64("stop", stop))
		return s.fallback(symbol, entry, stop)
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	// 1. Stop distance, with a 1% substitute when entry equals stop.
	distance := math.Abs(entry - stop)
	if distance == 0 {
		distance = entry * 0.01
	}

	// 2. Scale the per-trade budget by level, confidence and concentration.
	adjustedRisk := s.cfg.MaxRiskPerTrade * s.cfg.Level.Multiplier() * confidence * concentrationFactor(openPositions)

	// 3. Currency at risk and the unconstrained size.
	riskAmount := balance * adjustedRisk
	rawSize := riskAmount / distance

	// 4. Clamp to [minLot, 5% of equity notional]. Rounding is downward so
	// it can never push the size back over the ceiling.
	ceiling := balance * notionalCap / entry
	size := math.Min(rawSize, ceiling)
	size = math.Floor(size*100) / 100
	if size < s.cfg.MinLot {
		size = s.cfg.MinLot
	}

	// 5. Reward scales from 2:1 to 3:1 with confidence, on the trade's side.
	direction := Long
	if stop > entry {
		direction = Short
	}
	rr := 2.0 + confidence
	takeProfit := entry + rr*distance
	if direction == Short {
		takeProfit = entry - rr*distance
	}

	info := PositionInfo{
		Symbol:       symbol,
		Direction:    direction,
		EntryPrice:   entry,
		StopLoss:     stop,
		TakeProfit:   takeProfit,
		PositionSize: size,
		RiskAmount:   riskAmount,
		RiskPercent:  adjustedRisk,
		MaxLoss:      size * distance,
		Confidence:   confidence,
		OpenedAt:     time.Now().UTC(),
	}

	s.log.Debug("position sized",
		zap.String("symbol", symbol),
		zap.String("direction", string(direction)),
		zap.Float64("size", size),
		zap.Float64("risk_amount", riskAmount),
		zap.Float64("take_profit", takeProfit))

	return info
}

// fallback is the never-fail escape hatch: minimum lot, zero recorded risk.
func (s *Sizer) fallback(symbol string, entry, stop float64) PositionInfo {
	return PositionInfo{
		Symbol:       symbol,
		Direction:    Long,
		EntryPrice:   entry,
		StopLoss:     stop,
		PositionSize: s.cfg.MinLot,
		OpenedAt:     time.Now().UTC(),
	}
}

// AdmitPosition checks the candidate against the portfolio risk ceiling
// and, on success, inserts it keyed by symbol, superseding any prior open
// position there. Rejection leaves state untouched and reports why.
func (s *Sizer) AdmitPosition(info PositionInfo) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0.0
	for _, p := range s.open {
		current += p.RiskPercent
	}

	if current+info.RiskPercent > s.cfg.MaxPortfolioRisk {
		reason := fmt.Sprintf("portfolio risk %.4f + %.4f would exceed ceiling %.4f",
			current, info.RiskPercent, s.cfg.MaxPortfolioRisk)
		s.log.Warn("position rejected",
			zap.String("symbol", info.Symbol),
			zap.String("reason", reason))
		return false, reason
	}

	s.open[info.Symbol] = info
	s.log.Info("position admitted",
		zap.String("symbol", info.Symbol),
		zap.String("direction", string(info.Direction)),
		zap.Float64("size", info.PositionSize),
		zap.Float64("risk_percent", info.RiskPercent),
		zap.Float64("portfolio_risk", current+info.RiskPercent))

	return true, ""
}

// RetirePosition moves a symbol from the open map to history. When
// realizedPnL is nil the P&L is derived from exitPrice; when both are nil
// the position closes flat. Returns false if the symbol was not open.
func (s *Sizer) RetirePosition(symbol string, exitPrice, realizedPnL *float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.open[symbol]
	if !ok {
		return false
	}
	delete(s.open, symbol)

	exit := 0.0
	if exitPrice != nil {
		exit = *exitPrice
	}

	pnl := 0.0
	switch {
	case realizedPnL != nil:
		pnl = *realizedPnL
	case exitPrice != nil:
		pnl = (exit - pos.EntryPrice) * pos.PositionSize
		if pos.Direction == Short {
			pnl = -pnl
		}
	}

	record := ClosedPosition{
		Symbol:       pos.Symbol,
		Direction:    pos.Direction,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exit,
		PositionSize: pos.PositionSize,
		RiskAmount:   pos.RiskAmount,
		RealizedPnL:  pnl,
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     time.Now().UTC(),
	}
	s.closed = append(s.closed, record)

	s.log.Info("position retired",
		zap.String("symbol", symbol),
		zap.Float64("exit_price", exit),
		zap.Float64("realized_pnl", pnl))

	return true
}

// UpdateAccountBalance rescales every open position's risk percentage
// against the new equity. Risk amounts in currency stay as sized.
// Non-positive balances are ignored.
func (s *Sizer) UpdateAccountBalance(newBalance float64) {
	if newBalance <= 0 {
		s.log.Warn("ignoring non-positive balance update", zap.Float64("balance", newBalance))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.balance = newBalance
	for sym, p := range s.open {
		p.RiskPercent = p.RiskAmount / newBalance
		s.open[sym] = p
	}
}

// Balance returns the current account equity known to the sizer.
func (s *Sizer) Balance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// CurrentRisk is the sum of risk percentages over open positions.
func (s *Sizer) CurrentRisk() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0.0
	for _, p := range s.open {
		total += p.RiskPercent
	}
	return total
}

// OpenPositionCount returns the number of open positions.
func (s *Sizer) OpenPositionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open)
}

// OpenPosition returns the open position for a symbol, if any.
func (s *Sizer) OpenPosition(symbol string) (PositionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.open[symbol]
	return p, ok
}

// OpenPositions returns a copy of the open-position map.
func (s *Sizer) OpenPositions() map[string]PositionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]PositionInfo, len(s.open))
	for sym, p := range s.open {
		out[sym] = p
	}
	return out
}

// ClosedPositions returns up to limit closed positions, newest first.
func (s *Sizer) ClosedPositions(limit int) []ClosedPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.closed) {
		limit = len(s.closed)
	}
	out := make([]ClosedPosition, 0, limit)
	for i := len(s.closed) - 1; i >= len(s.closed)-limit; i-- {
		out = append(out, s.closed[i])
	}
	return out
}

// Status snapshots the ledger for the admin surface.
func (s *Sizer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current := 0.0
	for _, p := range s.open {
		current += p.RiskPercent
	}

	return Status{
		AccountBalance:   s.balance,
		Level:            s.cfg.Level,
		MaxRiskPerTrade:  s.cfg.MaxRiskPerTrade,
		MaxPortfolioRisk: s.cfg.MaxPortfolioRisk,
		CurrentRisk:      current,
		RemainingBudget:  s.cfg.MaxPortfolioRisk - current,
		OpenPositions:    len(s.open),
		ClosedPositions:  len(s.closed),
	}
}
