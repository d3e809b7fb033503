package predictor

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// startScorer runs a loopback predictor that answers Score with the given
// response fields, using a hand-rolled service descriptor so the test stays
// as schema-light as the client.
func startScorer(t *testing.T, respond func(symbol string) map[string]any) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	handler := func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		symbol := ""
		if v, ok := in.Fields["symbol"]; ok {
			symbol = v.GetStringValue()
		}
		return structpb.NewStruct(respond(symbol))
	}

	desc := grpc.ServiceDesc{
		ServiceName: "genx.predictor.v1.Predictor",
		HandlerType: (*any)(nil),
		Methods:     []grpc.MethodDesc{{MethodName: "Score", Handler: handler}},
	}

	srv := grpc.NewServer()
	srv.RegisterService(&desc, struct{}{})
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Stop)

	return ln.Addr().String()
}

func TestScoreRoundTrip(t *testing.T) {
	addr := startScorer(t, func(symbol string) map[string]any {
		if symbol != "EURUSD" {
			t.Errorf("symbol=%s, expected EURUSD", symbol)
		}
		return map[string]any{"score": 0.42, "confidence": 0.8}
	})

	client, err := NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	base, candles, err := client.Score(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if base.Score != 0.42 {
		t.Fatalf("Score=%v, expected 0.42", base.Score)
	}
	if base.Confidence != 0.8 {
		t.Fatalf("Confidence=%v, expected 0.8", base.Confidence)
	}
	if candles != nil {
		t.Fatalf("candles=%v, expected none without a timeframes field", candles)
	}
}

func TestScoreDecodesTimeframes(t *testing.T) {
	openTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	addr := startScorer(t, func(string) map[string]any {
		return map[string]any{
			"score":      -0.3,
			"confidence": 0.6,
			"timeframes": map[string]any{
				"H1": []any{
					map[string]any{
						"open_time": openTime.Format(time.RFC3339),
						"open":      1.1000,
						"high":      1.1050,
						"low":       1.0990,
						"close":     1.1040,
						"volume":    1200.0,
					},
				},
			},
		}
	})

	client, err := NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	_, candles, err := client.Score(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	h1 := candles["H1"]
	if len(h1) != 1 {
		t.Fatalf("len(H1)=%d, expected 1", len(h1))
	}
	if h1[0].Close != 1.1040 {
		t.Fatalf("Close=%v, expected 1.1040", h1[0].Close)
	}
	if !h1[0].OpenTime.Equal(openTime) {
		t.Fatalf("OpenTime=%v, expected %v", h1[0].OpenTime, openTime)
	}
}

func TestScoreMissingFieldsRejected(t *testing.T) {
	addr := startScorer(t, func(string) map[string]any {
		return map[string]any{"confidence": 0.9}
	})

	client, err := NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	_, _, err = client.Score(context.Background(), "EURUSD")
	if err == nil {
		t.Fatal("Score succeeded without a score field")
	}
	if !strings.Contains(err.Error(), "missing score") {
		t.Fatalf("error=%v, expected missing score", err)
	}
}

func TestScoreUnreachablePredictor(t *testing.T) {
	client, err := NewClient("127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, _, err := client.Score(ctx, "EURUSD"); err == nil {
		t.Fatal("Score succeeded against an unreachable endpoint")
	}
}
