// Package signal defines the domain vocabulary shared by the validator,
// the position sizer, the execution bridge, and the decision pipeline.
package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is the order instruction carried by a trading signal.
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionClose    Action = "CLOSE"
	ActionCloseAll Action = "CLOSE_ALL"
)

// Valid reports whether the action is one of the known instructions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionClose, ActionCloseAll:
		return true
	}
	return false
}

// TradingSignal is a risk-bounded order instruction for execution agents.
// Immutable once handed to the bridge.
type TradingSignal struct {
	ID          string    `json:"signal_id"`
	Symbol      string    `json:"instrument"`
	Action      Action    `json:"action"`
	Volume      float64   `json:"volume"`
	StopLoss    float64   `json:"stop_loss,omitempty"`
	TakeProfit  float64   `json:"take_profit,omitempty"`
	MagicNumber int       `json:"magic_number"`
	Comment     string    `json:"comment,omitempty"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// New builds a signal with a fresh id and creation time.
func New(symbol string, action Action, volume float64) TradingSignal {
	return TradingSignal{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Action:    action,
		Volume:    volume,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the signal invariants before transmission.
func (s TradingSignal) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("signal has no id")
	}
	if s.Symbol == "" {
		return fmt.Errorf("signal %s has no instrument", s.ID)
	}
	if !s.Action.Valid() {
		return fmt.Errorf("signal %s has unknown action %q", s.ID, s.Action)
	}
	if s.Action == ActionBuy || s.Action == ActionSell {
		if s.Volume <= 0 {
			return fmt.Errorf("signal %s has non-positive volume %v", s.ID, s.Volume)
		}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s has confidence %v outside [0,1]", s.ID, s.Confidence)
	}
	return nil
}

// AgentInfo identifies an execution terminal. Account and magic number form
// the logical agent key; the rest is descriptive.
type AgentInfo struct {
	Name        string `json:"name,omitempty"`
	Version     string `json:"version,omitempty"`
	Account     string `json:"account,omitempty"`
	Broker      string `json:"broker,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Timeframe   string `json:"timeframe,omitempty"`
	MagicNumber int    `json:"magic_number,omitempty"`
}

// Key returns the account_magic composite identifying the logical agent
// across reconnects, or "" when the agent has not introduced itself yet.
func (a AgentInfo) Key() string {
	if a.Account == "" && a.MagicNumber == 0 {
		return ""
	}
	return fmt.Sprintf("%s_%d", a.Account, a.MagicNumber)
}

// Merge overlays non-empty fields from other onto a copy of a. Heartbeats
// carry partial agent info; empty fields never erase an earlier
// identification.
func (a AgentInfo) Merge(other AgentInfo) AgentInfo {
	out := a
	if other.Name != "" {
		out.Name = other.Name
	}
	if other.Version != "" {
		out.Version = other.Version
	}
	if other.Account != "" {
		out.Account = other.Account
	}
	if other.Broker != "" {
		out.Broker = other.Broker
	}
	if other.Symbol != "" {
		out.Symbol = other.Symbol
	}
	if other.Timeframe != "" {
		out.Timeframe = other.Timeframe
	}
	if other.MagicNumber != 0 {
		out.MagicNumber = other.MagicNumber
	}
	return out
}

// HeartbeatInfo is the periodic liveness payload from an agent.
type HeartbeatInfo struct {
	Status        string `json:"status,omitempty"`
	OpenPositions int    `json:"open_positions"`
	PendingOrders int    `json:"pending_orders"`
	LastSignalID  string `json:"last_signal_id,omitempty"`
	AgentInfo
}

// AccountStatus is the agent-reported account state.
type AccountStatus struct {
	Account       string  `json:"account,omitempty"`
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Margin        float64 `json:"margin"`
	FreeMargin    float64 `json:"free_margin"`
	MarginLevel   float64 `json:"margin_level"`
	Profit        float64 `json:"profit"`
	OpenPositions int     `json:"open_positions"`
}

// TradeResult is execution feedback for a transmitted signal.
type TradeResult struct {
	SignalID       string    `json:"signal_id"`
	Ticket         int64     `json:"ticket,omitempty"`
	Success        bool      `json:"success"`
	ErrorCode      int       `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ExecutionPrice float64   `json:"execution_price,omitempty"`
	Slippage       float64   `json:"slippage,omitempty"`
	ExecutionTime  time.Time `json:"execution_time,omitempty"`
}
