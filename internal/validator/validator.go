package validator

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"genx-core/internal/market"
)

const (
	defaultShortPeriod = 10
	defaultLongPeriod  = 30
	defaultHistorySize = 200

	// Verdict thresholds over the consensus score. STRONG verdicts also
	// require the matching direction to hold a 70% share of signals.
	strongThreshold      = 0.7
	directionalThreshold = 0.4
	dominanceShare       = 0.7
)

// Validator scores base signals against a weighted multi-timeframe
// hierarchy. Safe for concurrent use.
type Validator struct {
	timeframes  []Timeframe
	shortPeriod int
	longPeriod  int
	synthetic   bool
	log         *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	histMu  sync.Mutex
	history []Report
	histCap int
}

// Stats summarizes validation outcomes recorded so far.
type Stats struct {
	Total         int            `json:"total"`
	ByResult      map[Result]int `json:"by_result"`
	AvgConfidence float64        `json:"avg_confidence"`
}

// New builds a Validator, normalizing timeframe weights to sum to one.
// Construction fails on an empty hierarchy or non-increasing weights.
func New(cfg Config, log *zap.Logger) (*Validator, error) {
	timeframes, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	shortPeriod := cfg.ShortPeriod
	if shortPeriod <= 0 {
		shortPeriod = defaultShortPeriod
	}
	longPeriod := cfg.LongPeriod
	if longPeriod <= 0 {
		longPeriod = defaultLongPeriod
	}
	if longPeriod <= shortPeriod {
		return nil, fmt.Errorf("validator: long period %d must exceed short period %d", longPeriod, shortPeriod)
	}

	histCap := cfg.HistorySize
	if histCap <= 0 {
		histCap = defaultHistorySize
	}

	seed := cfg.SyntheticSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Validator{
		timeframes:  timeframes,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		synthetic:   cfg.Synthetic,
		log:         log,
		rng:         rand.New(rand.NewSource(seed)),
		histCap:     histCap,
	}, nil
}

// Timeframes returns the normalized hierarchy.
func (v *Validator) Timeframes() []Timeframe {
	out := make([]Timeframe, len(v.timeframes))
	copy(out, v.timeframes)
	return out
}

// Validate produces a fresh report for the symbol. Market data is keyed by
// timeframe label; a timeframe with no usable candles is skipped, or filled
// by perturbing the base signal when synthetic mode is on. No timeframe
// producing a signal yields an INVALID report, never an error.
func (v *Validator) Validate(symbol string, base BaseSignal, data map[string][]market.Candle) Report {
	items := make([]weightedSignal, 0, len(v.timeframes))

	for _, tf := range v.timeframes {
		if candles, ok := data[tf.Label]; ok {
			if sig, ok := analyzeCandles(tf.Label, candles, v.shortPeriod, v.longPeriod); ok {
				items = append(items, weightedSignal{sig: sig, weight: tf.Weight})
				continue
			}
		}
		if v.synthetic {
			v.rngMu.Lock()
			sig := synthesizeSignal(tf.Label, base, v.rng)
			v.rngMu.Unlock()
			items = append(items, weightedSignal{sig: sig, weight: tf.Weight})
		}
	}

	now := time.Now().UTC()
	if len(items) == 0 {
		report := Report{
			Symbol:      symbol,
			Result:      Invalid,
			Signals:     []TimeframeSignal{},
			Notes:       []string{"no timeframe signals available"},
			ValidatedAt: now,
		}
		v.record(report)
		v.log.Warn("validation produced no timeframe signals", zap.String("symbol", symbol))
		return report
	}

	signals := make([]TimeframeSignal, len(items))
	for i, it := range items {
		signals[i] = it.sig
	}

	consensus := consensusScore(items)
	buys, sells, neutrals := tally(signals)
	result := verdict(consensus, buys, sells, len(signals))
	confidence := finalConfidence(signals, consensus, buys, sells, neutrals)

	report := Report{
		Symbol:         symbol,
		Result:         result,
		Confidence:     confidence,
		ConsensusScore: consensus,
		Signals:        signals,
		Notes:          buildNotes(consensus, buys, sells, neutrals, signals),
		ValidatedAt:    now,
	}
	v.record(report)

	v.log.Info("signal validated",
		zap.String("symbol", symbol),
		zap.String("result", string(result)),
		zap.Float64("consensus", consensus),
		zap.Float64("confidence", confidence),
		zap.Int("timeframes", len(signals)))

	return report
}

// Stats aggregates the bounded report history.
func (v *Validator) Stats() Stats {
	v.histMu.Lock()
	defer v.histMu.Unlock()

	stats := Stats{ByResult: make(map[Result]int)}
	sum := 0.0
	for _, r := range v.history {
		stats.Total++
		stats.ByResult[r.Result]++
		sum += r.Confidence
	}
	if stats.Total > 0 {
		stats.AvgConfidence = sum / float64(stats.Total)
	}
	return stats
}

// Recent returns up to limit reports, newest first.
func (v *Validator) Recent(limit int) []Report {
	v.histMu.Lock()
	defer v.histMu.Unlock()

	if limit <= 0 || limit > len(v.history) {
		limit = len(v.history)
	}
	out := make([]Report, 0, limit)
	for i := len(v.history) - 1; i >= len(v.history)-limit; i-- {
		out = append(out, v.history[i])
	}
	return out
}

func (v *Validator) record(r Report) {
	v.histMu.Lock()
	defer v.histMu.Unlock()

	v.history = append(v.history, r)
	if len(v.history) > v.histCap {
		v.history = v.history[len(v.history)-v.histCap:]
	}
}

type weightedSignal struct {
	sig    TimeframeSignal
	weight float64
}

// consensusScore is the weighted mean of signed confidences: buy counts
// positive, sell negative, neutral zero. Result is clamped to [-1, 1].
func consensusScore(items []weightedSignal) float64 {
	var weighted, total float64
	for _, it := range items {
		signed := 0.0
		switch it.sig.Direction {
		case DirectionBuy:
			signed = it.sig.Confidence
		case DirectionSell:
			signed = -it.sig.Confidence
		}
		weighted += it.weight * signed
		total += it.weight
	}
	if total == 0 {
		return 0
	}
	return clamp(weighted/total, -1, 1)
}

func tally(signals []TimeframeSignal) (buys, sells, neutrals int) {
	for _, s := range signals {
		switch s.Direction {
		case DirectionBuy:
			buys++
		case DirectionSell:
			sells++
		default:
			neutrals++
		}
	}
	return
}

func verdict(consensus float64, buys, sells, total int) Result {
	buyShare := float64(buys) / float64(total)
	sellShare := float64(sells) / float64(total)

	switch {
	case consensus > strongThreshold && buyShare >= dominanceShare:
		return StrongBuy
	case consensus > directionalThreshold:
		return Buy
	case consensus < -strongThreshold && sellShare >= dominanceShare:
		return StrongSell
	case consensus < -directionalThreshold:
		return Sell
	default:
		return Neutral
	}
}

// finalConfidence blends mean timeframe confidence, consensus magnitude and
// directional agreement at 0.4/0.4/0.2, clamped to [0.1, 0.95].
func finalConfidence(signals []TimeframeSignal, consensus float64, buys, sells, neutrals int) float64 {
	sum := 0.0
	for _, s := range signals {
		sum += s.Confidence
	}
	mean := sum / float64(len(signals))

	majority := buys
	if sells > majority {
		majority = sells
	}
	if neutrals > majority {
		majority = neutrals
	}
	agreement := float64(majority) / float64(len(signals))

	return clamp(0.4*mean+0.4*abs(consensus)+0.2*agreement, 0.1, 0.95)
}

func buildNotes(consensus float64, buys, sells, neutrals int, signals []TimeframeSignal) []string {
	notes := make([]string, 0, 4)

	strength := "weak"
	switch {
	case abs(consensus) > strongThreshold:
		strength = "strong"
	case abs(consensus) > directionalThreshold:
		strength = "moderate"
	}
	notes = append(notes, fmt.Sprintf("%s consensus (%.2f)", strength, consensus))
	notes = append(notes, fmt.Sprintf("distribution: %d buy, %d sell, %d neutral", buys, sells, neutrals))

	for _, s := range signals {
		if s.Confidence > 0.7 {
			notes = append(notes, fmt.Sprintf("%s %s with confidence %.2f", s.Timeframe, s.Direction, s.Confidence))
		}
	}

	if buys > 0 && sells > 0 {
		notes = append(notes, "conflicting directions across timeframes")
	}
	return notes
}
