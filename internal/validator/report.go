package validator

import "time"

// Direction is a per-timeframe directional read.
type Direction string

const (
	DirectionBuy     Direction = "buy"
	DirectionSell    Direction = "sell"
	DirectionNeutral Direction = "neutral"
)

// Result is the overall verdict of a validation pass.
type Result string

const (
	StrongBuy  Result = "STRONG_BUY"
	Buy        Result = "BUY"
	Neutral    Result = "NEUTRAL"
	Sell       Result = "SELL"
	StrongSell Result = "STRONG_SELL"
	Invalid    Result = "INVALID"
)

// BaseSignal is the externally produced trade idea entering validation:
// a directional score in [-1,1] and a confidence in [0,1].
type BaseSignal struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// TimeframeSignal is one timeframe's directional read, produced fresh per
// validation call.
type TimeframeSignal struct {
	Timeframe  string    `json:"timeframe"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Strength   float64   `json:"strength"`
	ObservedAt time.Time `json:"observed_at"`
}

// Report is the outcome of one validation pass. The overall result is a
// deterministic function of the consensus score and signal distribution.
type Report struct {
	Symbol         string            `json:"symbol"`
	Result         Result            `json:"overall_result"`
	Confidence     float64           `json:"confidence"`
	ConsensusScore float64           `json:"consensus_score"`
	Signals        []TimeframeSignal `json:"timeframe_signals"`
	Notes          []string          `json:"notes"`
	ValidatedAt    time.Time         `json:"validated_at"`
}

// IsAcceptable is the sole gate between validation and sizing: false on
// INVALID or NEUTRAL verdicts, low confidence, or weak consensus. Pure
// function of its inputs.
func IsAcceptable(r Report, minConfidence, minConsensus float64) bool {
	if r.Result == Invalid || r.Result == Neutral {
		return false
	}
	if r.Confidence < minConfidence {
		return false
	}
	if abs(r.ConsensusScore) < minConsensus {
		return false
	}
	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
