package risk

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel scales the per-trade risk budget.
type RiskLevel string

const (
	Conservative RiskLevel = "conservative"
	Moderate     RiskLevel = "moderate"
	Aggressive   RiskLevel = "aggressive"
)

// Multiplier returns the risk scaling for the level. Unknown levels get the
// moderate multiplier.
func (l RiskLevel) Multiplier() float64 {
	switch l {
	case Conservative:
		return 0.5
	case Aggressive:
		return 1.5
	default:
		return 1.0
	}
}

// ParseRiskLevel normalizes a configured level string, defaulting to
// moderate on anything unrecognized.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case Conservative:
		return Conservative
	case Aggressive:
		return Aggressive
	default:
		return Moderate
	}
}

// Direction of an open position, derived from where the stop sits relative
// to entry.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Config holds the sizer's construction parameters.
type Config struct {
	AccountBalance   float64
	Level            RiskLevel
	MaxRiskPerTrade  float64
	MaxPortfolioRisk float64
	MinLot           float64
}

// DefaultConfig returns production defaults: 2% per trade, 10% portfolio
// ceiling, 0.01 minimum lot.
func DefaultConfig() Config {
	return Config{
		AccountBalance:   10000,
		Level:            Moderate,
		MaxRiskPerTrade:  0.02,
		MaxPortfolioRisk: 0.10,
		MinLot:           0.01,
	}
}

func (c Config) validate() error {
	if c.AccountBalance <= 0 {
		return fmt.Errorf("risk: account balance must be positive, got %.2f", c.AccountBalance)
	}
	if c.MaxRiskPerTrade <= 0 || c.MaxRiskPerTrade > 1 {
		return fmt.Errorf("risk: max risk per trade must be in (0,1], got %.4f", c.MaxRiskPerTrade)
	}
	if c.MaxPortfolioRisk <= 0 || c.MaxPortfolioRisk > 1 {
		return fmt.Errorf("risk: max portfolio risk must be in (0,1], got %.4f", c.MaxPortfolioRisk)
	}
	if c.MaxPortfolioRisk < c.MaxRiskPerTrade {
		return fmt.Errorf("risk: portfolio ceiling %.4f below per-trade risk %.4f", c.MaxPortfolioRisk, c.MaxRiskPerTrade)
	}
	if c.MinLot <= 0 {
		return fmt.Errorf("risk: min lot must be positive, got %.4f", c.MinLot)
	}
	return nil
}

// PositionInfo is the sizer's output for one accepted signal. Read-only
// once created; superseded by a ClosedPosition on retirement.
type PositionInfo struct {
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	PositionSize float64   `json:"position_size"`
	RiskAmount   float64   `json:"risk_amount"`
	RiskPercent  float64   `json:"risk_percent"`
	MaxLoss      float64   `json:"max_loss"`
	Confidence   float64   `json:"confidence"`
	OpenedAt     time.Time `json:"opened_at"`
}

// ClosedPosition is the historical record of a retired position.
type ClosedPosition struct {
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	PositionSize float64   `json:"position_size"`
	RiskAmount   float64   `json:"risk_amount"`
	RealizedPnL  float64   `json:"realized_pnl"`
	OpenedAt     time.Time `json:"opened_at"`
	ClosedAt     time.Time `json:"closed_at"`
}

// Status is a snapshot of the portfolio ledger.
type Status struct {
	AccountBalance   float64   `json:"account_balance"`
	Level            RiskLevel `json:"risk_level"`
	MaxRiskPerTrade  float64   `json:"max_risk_per_trade"`
	MaxPortfolioRisk float64   `json:"max_portfolio_risk"`
	CurrentRisk      float64   `json:"current_risk"`
	RemainingBudget  float64   `json:"remaining_budget"`
	OpenPositions    int       `json:"open_positions"`
	ClosedPositions  int       `json:"closed_positions"`
}
