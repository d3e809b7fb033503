package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"genx-core/internal/signal"
)

// MessageType tags the payload carried by an envelope.
type MessageType string

const (
	TypeSignal        MessageType = "SIGNAL"
	TypeCommand       MessageType = "COMMAND"
	TypeEAInfo        MessageType = "EA_INFO"
	TypeHeartbeat     MessageType = "HEARTBEAT"
	TypeAccountStatus MessageType = "ACCOUNT_STATUS"
	TypeTradeResult   MessageType = "TRADE_RESULT"
	TypeError         MessageType = "ERROR"
)

// Envelope is the wire message: a type tag, a type-dependent JSON payload
// and an ISO-8601 timestamp. Exists only on the wire and during dispatch.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// CommandPayload is the body of a COMMAND message, the operational control
// path distinct from trading signals.
type CommandPayload struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ErrorPayload is the body of an ERROR message.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope wraps a payload with its type tag and a fresh timestamp.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// NewSignalEnvelope wraps a trading signal for transmission.
func NewSignalEnvelope(sig signal.TradingSignal) (Envelope, error) {
	return NewEnvelope(TypeSignal, sig)
}

// NewCommandEnvelope wraps an operational command.
func NewCommandEnvelope(command string, params map[string]any) (Envelope, error) {
	return NewEnvelope(TypeCommand, CommandPayload{Command: command, Parameters: params})
}

// DecodePayload deserializes the envelope body into the concrete type its
// tag names. Unknown tags are an error; the caller logs and drops them.
func (e Envelope) DecodePayload() (any, error) {
	switch e.Type {
	case TypeSignal:
		return decodeAs[signal.TradingSignal](e)
	case TypeCommand:
		return decodeAs[CommandPayload](e)
	case TypeEAInfo:
		return decodeAs[signal.AgentInfo](e)
	case TypeHeartbeat:
		return decodeAs[signal.HeartbeatInfo](e)
	case TypeAccountStatus:
		return decodeAs[signal.AccountStatus](e)
	case TypeTradeResult:
		return decodeAs[signal.TradeResult](e)
	case TypeError:
		return decodeAs[ErrorPayload](e)
	default:
		return nil, fmt.Errorf("unknown message type %q", e.Type)
	}
}

func decodeAs[T any](e Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return payload, nil
}
