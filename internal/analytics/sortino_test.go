package analytics

import (
	"errors"
	"math"
	"testing"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name    string
		returns []float64
		target  float64
		periods float64
		want    float64
		wantInf bool
		wantErr error
	}{
		{
			name:    "too few samples",
			returns: []float64{0.01},
			periods: 252,
			wantErr: ErrInsufficientData,
		},
		{
			name:    "empty series",
			returns: nil,
			periods: 252,
			wantErr: ErrInsufficientData,
		},
		{
			name:    "all positive returns has no downside",
			returns: []float64{0.01, 0.02, 0.015, 0.03},
			target:  0,
			periods: 252,
			wantInf: true,
		},
		{
			name:    "mixed returns",
			returns: []float64{0.02, -0.01},
			target:  0,
			periods: 252,
			// (0.005*252) / (sqrt(0.0001/2)*sqrt(252))
			want: 11.2250,
		},
		{
			name:    "symmetric series is zero",
			returns: []float64{0.01, -0.01, 0.01, -0.01},
			target:  0,
			periods: 252,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Ratio(tt.returns, tt.target, tt.periods)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantInf {
				if !math.IsInf(got, 1) {
					t.Fatalf("expected +Inf, got %v", got)
				}
				return
			}
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("expected %.4f, got %.4f", tt.want, got)
			}
		})
	}
}

func TestCapRatio(t *testing.T) {
	if got := CapRatio(math.Inf(1), RatioCap); got != RatioCap {
		t.Errorf("expected +Inf capped to %v, got %v", RatioCap, got)
	}
	if got := CapRatio(math.Inf(-1), RatioCap); got != -RatioCap {
		t.Errorf("expected -Inf capped to %v, got %v", -RatioCap, got)
	}
	if got := CapRatio(3.5, RatioCap); got != 3.5 {
		t.Errorf("expected 3.5 passed through, got %v", got)
	}
}

func TestHistoryWindow(t *testing.T) {
	h := NewHistory(3)

	h.Record(100, 10000)  // +0.01
	h.Record(-50, 10000)  // -0.005
	h.Record(200, 10000)  // +0.02
	h.Record(-100, 10000) // -0.01, evicts the first sample

	returns := h.Returns()
	if len(returns) != 3 {
		t.Fatalf("expected window of 3, got %d", len(returns))
	}
	if returns[0] != -0.005 {
		t.Errorf("expected oldest retained sample -0.005, got %v", returns[0])
	}

	snap := h.Snapshot(0, 252)
	if snap.Trades != 4 {
		t.Errorf("expected 4 trades recorded, got %d", snap.Trades)
	}
	if snap.Wins != 2 {
		t.Errorf("expected 2 wins, got %d", snap.Wins)
	}
	if snap.WinRate != 0.5 {
		t.Errorf("expected win rate 0.5, got %v", snap.WinRate)
	}
	if snap.InsufficientData {
		t.Error("expected sufficient data with 3 samples")
	}
}

func TestHistorySnapshotEdges(t *testing.T) {
	t.Run("empty history reports insufficient data", func(t *testing.T) {
		h := NewHistory(10)
		snap := h.Snapshot(0, 252)
		if !snap.InsufficientData {
			t.Error("expected insufficient data flag")
		}
	})

	t.Run("winning streak reports capped ratio", func(t *testing.T) {
		h := NewHistory(10)
		h.Record(50, 10000)
		h.Record(75, 10000)
		h.Record(20, 10000)
		snap := h.Snapshot(0, 252)
		if !snap.NoDownside {
			t.Error("expected no-downside flag")
		}
		if snap.SortinoRatio != RatioCap {
			t.Errorf("expected capped ratio %v, got %v", RatioCap, snap.SortinoRatio)
		}
	})

	t.Run("zero balance ignored", func(t *testing.T) {
		h := NewHistory(10)
		h.Record(50, 0)
		if len(h.Returns()) != 0 {
			t.Error("expected record with zero balance to be dropped")
		}
	})
}
