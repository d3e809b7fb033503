package validator

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"genx-core/internal/market"
)

func newTestValidator(t *testing.T, cfg Config) *Validator {
	t.Helper()
	if cfg.Timeframes == nil {
		cfg.Timeframes = DefaultTimeframes()
	}
	v, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return v
}

func equalWeighted(signals []TimeframeSignal) []weightedSignal {
	items := make([]weightedSignal, len(signals))
	for i, s := range signals {
		items[i] = weightedSignal{sig: s, weight: 1.0 / float64(len(signals))}
	}
	return items
}

func trendingCandles(start, step float64, count int) []market.Candle {
	candles := make([]market.Candle, count)
	price := start
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime: time.Now().Add(time.Duration(i-count) * time.Minute),
			Open:     price,
			Close:    price + step,
			High:     price + step*1.5,
			Low:      price - step*0.5,
		}
		price += step
	}
	return candles
}

// Five equally weighted buy signals at confidence 0.8 must produce a 0.8
// consensus, a STRONG_BUY verdict and a blended confidence of 0.84.
func TestUnanimousBuyConsensus(t *testing.T) {
	signals := make([]TimeframeSignal, 5)
	for i := range signals {
		signals[i] = TimeframeSignal{
			Timeframe:  []string{"M5", "M15", "H1", "H4", "D1"}[i],
			Direction:  DirectionBuy,
			Confidence: 0.8,
			Strength:   0.8,
		}
	}

	consensus := consensusScore(equalWeighted(signals))
	if math.Abs(consensus-0.8) > 1e-9 {
		t.Fatalf("consensus=%v, expected 0.8", consensus)
	}

	buys, sells, neutrals := tally(signals)
	result := verdict(consensus, buys, sells, len(signals))
	if result != StrongBuy {
		t.Fatalf("result=%v, expected STRONG_BUY", result)
	}

	confidence := finalConfidence(signals, consensus, buys, sells, neutrals)
	if math.Abs(confidence-0.84) > 1e-9 {
		t.Fatalf("confidence=%v, expected 0.84", confidence)
	}
}

// Flipping one sell to a buy while holding everything else fixed must never
// decrease the consensus score.
func TestConsensusMonotonicity(t *testing.T) {
	base := []TimeframeSignal{
		{Timeframe: "M15", Direction: DirectionBuy, Confidence: 0.6},
		{Timeframe: "H1", Direction: DirectionSell, Confidence: 0.7},
		{Timeframe: "H4", Direction: DirectionNeutral, Confidence: 0.5},
		{Timeframe: "D1", Direction: DirectionSell, Confidence: 0.4},
	}

	for flip := range base {
		if base[flip].Direction != DirectionSell {
			continue
		}
		before := consensusScore(equalWeighted(base))

		flipped := make([]TimeframeSignal, len(base))
		copy(flipped, base)
		flipped[flip].Direction = DirectionBuy
		after := consensusScore(equalWeighted(flipped))

		if after < before {
			t.Fatalf("flipping %s sell to buy decreased consensus: %v -> %v", base[flip].Timeframe, before, after)
		}
	}
}

func TestVerdictThresholds(t *testing.T) {
	tests := []struct {
		name      string
		consensus float64
		buys      int
		sells     int
		total     int
		want      Result
	}{
		{name: "strong buy", consensus: 0.75, buys: 4, sells: 0, total: 5, want: StrongBuy},
		{name: "strong consensus without dominance", consensus: 0.72, buys: 3, sells: 2, total: 5, want: Buy},
		{name: "plain buy", consensus: 0.5, buys: 3, sells: 1, total: 5, want: Buy},
		{name: "neutral band", consensus: 0.4, buys: 2, sells: 1, total: 5, want: Neutral},
		{name: "plain sell", consensus: -0.45, buys: 1, sells: 3, total: 5, want: Sell},
		{name: "strong sell", consensus: -0.8, buys: 0, sells: 4, total: 5, want: StrongSell},
		{name: "strong sell without dominance", consensus: -0.71, buys: 2, sells: 3, total: 5, want: Sell},
		{name: "dead center", consensus: 0, buys: 1, sells: 1, total: 3, want: Neutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := verdict(tt.consensus, tt.buys, tt.sells, tt.total)
			if got != tt.want {
				t.Fatalf("verdict=%v, expected %v", got, tt.want)
			}
		})
	}
}

func TestFinalConfidenceClamped(t *testing.T) {
	low := []TimeframeSignal{
		{Direction: DirectionNeutral, Confidence: 0},
		{Direction: DirectionBuy, Confidence: 0},
		{Direction: DirectionSell, Confidence: 0},
	}
	buys, sells, neutrals := tally(low)
	if got := finalConfidence(low, 0, buys, sells, neutrals); got != 0.1 {
		t.Fatalf("confidence=%v, expected floor 0.1", got)
	}

	high := []TimeframeSignal{
		{Direction: DirectionBuy, Confidence: 1},
		{Direction: DirectionBuy, Confidence: 1},
		{Direction: DirectionBuy, Confidence: 1},
	}
	buys, sells, neutrals = tally(high)
	if got := finalConfidence(high, 1, buys, sells, neutrals); got != 0.95 {
		t.Fatalf("confidence=%v, expected ceiling 0.95", got)
	}
}

// With synthetic mode off and no market data there is nothing to score, so
// the report must come back INVALID rather than erroring.
func TestValidateWithoutDataIsInvalid(t *testing.T) {
	v := newTestValidator(t, Config{})

	report := v.Validate("EURUSD", BaseSignal{Score: 0.9, Confidence: 0.9}, nil)
	if report.Result != Invalid {
		t.Fatalf("result=%v, expected INVALID", report.Result)
	}
	if len(report.Signals) != 0 {
		t.Fatalf("signals=%d, expected 0", len(report.Signals))
	}
	if IsAcceptable(report, 0, 0) {
		t.Fatal("INVALID report must never be acceptable")
	}
}

func TestValidateTrendingMarket(t *testing.T) {
	v := newTestValidator(t, Config{})

	data := make(map[string][]market.Candle)
	for _, tf := range v.Timeframes() {
		data[tf.Label] = trendingCandles(1.10, 0.001, 60)
	}

	report := v.Validate("EURUSD", BaseSignal{Score: 0.8, Confidence: 0.8}, data)
	if report.Result != StrongBuy && report.Result != Buy {
		t.Fatalf("result=%v, expected a buy verdict on a rising market", report.Result)
	}
	if len(report.Signals) != len(v.Timeframes()) {
		t.Fatalf("signals=%d, expected %d", len(report.Signals), len(v.Timeframes()))
	}
	if report.ConsensusScore <= 0 {
		t.Fatalf("consensus=%v, expected positive", report.ConsensusScore)
	}
	if len(report.Notes) == 0 {
		t.Fatal("expected explanatory notes")
	}
}

func TestValidateSyntheticFallback(t *testing.T) {
	v := newTestValidator(t, Config{Synthetic: true, SyntheticSeed: 42})

	report := v.Validate("GBPUSD", BaseSignal{Score: 0.9, Confidence: 0.85}, nil)
	if report.Result == Invalid {
		t.Fatal("synthetic mode must fill missing timeframes")
	}
	if len(report.Signals) != len(DefaultTimeframes()) {
		t.Fatalf("signals=%d, expected %d", len(report.Signals), len(DefaultTimeframes()))
	}

	// A strongly positive base signal perturbed by at most 0.1 stays a buy.
	for _, s := range report.Signals {
		if s.Direction != DirectionBuy {
			t.Fatalf("timeframe %s direction=%v, expected buy", s.Timeframe, s.Direction)
		}
	}
}

func TestIsAcceptableGate(t *testing.T) {
	tests := []struct {
		name          string
		report        Report
		minConfidence float64
		minConsensus  float64
		want          bool
	}{
		{
			name:          "passes all gates",
			report:        Report{Result: Buy, Confidence: 0.7, ConsensusScore: 0.5},
			minConfidence: 0.6,
			minConsensus:  0.3,
			want:          true,
		},
		{
			name:          "strong sell passes on magnitude",
			report:        Report{Result: StrongSell, Confidence: 0.8, ConsensusScore: -0.75},
			minConfidence: 0.6,
			minConsensus:  0.3,
			want:          true,
		},
		{
			name:          "neutral rejected",
			report:        Report{Result: Neutral, Confidence: 0.9, ConsensusScore: 0.9},
			minConfidence: 0.1,
			minConsensus:  0.1,
			want:          false,
		},
		{
			name:          "invalid rejected",
			report:        Report{Result: Invalid},
			minConfidence: 0,
			minConsensus:  0,
			want:          false,
		},
		{
			name:          "confidence below threshold",
			report:        Report{Result: Buy, Confidence: 0.5, ConsensusScore: 0.6},
			minConfidence: 0.6,
			minConsensus:  0.3,
			want:          false,
		},
		{
			name:          "consensus magnitude below threshold",
			report:        Report{Result: Sell, Confidence: 0.8, ConsensusScore: -0.2},
			minConfidence: 0.6,
			minConsensus:  0.3,
			want:          false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsAcceptable(tt.report, tt.minConfidence, tt.minConsensus)
			if got != tt.want {
				t.Fatalf("IsAcceptable=%v, expected %v", got, tt.want)
			}
			// Same inputs, same answer: the gate holds no state.
			if again := IsAcceptable(tt.report, tt.minConfidence, tt.minConsensus); again != got {
				t.Fatalf("IsAcceptable changed answer on repeat call: %v then %v", got, again)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name       string
		timeframes []Timeframe
		wantErr    bool
	}{
		{name: "empty", timeframes: []Timeframe{}, wantErr: true},
		{name: "missing label", timeframes: []Timeframe{{Label: "", Weight: 0.5}}, wantErr: true},
		{name: "zero weight", timeframes: []Timeframe{{Label: "H1", Weight: 0}}, wantErr: true},
		{
			name:       "non increasing",
			timeframes: []Timeframe{{Label: "M15", Weight: 0.3}, {Label: "H1", Weight: 0.2}},
			wantErr:    true,
		},
		{
			name:       "equal weights rejected",
			timeframes: []Timeframe{{Label: "M15", Weight: 0.2}, {Label: "H1", Weight: 0.2}},
			wantErr:    true,
		},
		{
			name:       "valid hierarchy",
			timeframes: []Timeframe{{Label: "M15", Weight: 1}, {Label: "H1", Weight: 2}, {Label: "H4", Weight: 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := New(Config{Timeframes: tt.timeframes}, zap.NewNop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}

			sum := 0.0
			for _, tf := range v.Timeframes() {
				sum += tf.Weight
			}
			if math.Abs(sum-1.0) > 1e-9 {
				t.Fatalf("normalized weights sum=%v, expected 1.0", sum)
			}
		})
	}
}

func TestStatsAndRecent(t *testing.T) {
	v := newTestValidator(t, Config{Synthetic: true, SyntheticSeed: 7, HistorySize: 3})

	for i := 0; i < 5; i++ {
		v.Validate("EURUSD", BaseSignal{Score: 0.9, Confidence: 0.8}, nil)
	}

	stats := v.Stats()
	if stats.Total != 3 {
		t.Fatalf("Total=%d, expected history capped at 3", stats.Total)
	}
	if stats.AvgConfidence <= 0 {
		t.Fatalf("AvgConfidence=%v, expected positive", stats.AvgConfidence)
	}

	recent := v.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2)=%d reports, expected 2", len(recent))
	}
}

func TestAnalyzeCandlesInsufficientData(t *testing.T) {
	if _, ok := analyzeCandles("H1", trendingCandles(1.1, 0.001, 5), 10, 30); ok {
		t.Fatal("expected insufficient data to be skipped")
	}
}
