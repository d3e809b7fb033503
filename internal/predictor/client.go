// Package predictor dials the external ensemble scorer over gRPC. The
// exchange is schema-light: both sides speak structpb.Struct on a fixed
// method path, so no generated stubs are checked in.
package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"genx-core/internal/market"
	"genx-core/internal/validator"
)

const scoreMethod = "/genx.predictor.v1.Predictor/Score"

const defaultTimeout = 2 * time.Second

// Client is a connection to one predictor endpoint.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient connects to the predictor at addr. The connection is lazy; a
// down predictor surfaces on the first Score call, not here.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("predictor: connect %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: defaultTimeout}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Score asks the ensemble for a directional read on symbol. The response
// carries a score in [-1,1] and a confidence in [0,1], plus optionally the
// per-timeframe OHLCV slices the ensemble scored from, which downstream
// validation reuses.
func (c *Client) Score(ctx context.Context, symbol string) (validator.BaseSignal, map[string][]market.Candle, error) {
	req, err := structpb.NewStruct(map[string]any{"symbol": symbol})
	if err != nil {
		return validator.BaseSignal{}, nil, fmt.Errorf("predictor: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, scoreMethod, req, resp); err != nil {
		return validator.BaseSignal{}, nil, fmt.Errorf("predictor: score %s: %w", symbol, err)
	}

	score, ok := numberField(resp, "score")
	if !ok {
		return validator.BaseSignal{}, nil, fmt.Errorf("predictor: response for %s missing score", symbol)
	}
	confidence, ok := numberField(resp, "confidence")
	if !ok {
		return validator.BaseSignal{}, nil, fmt.Errorf("predictor: response for %s missing confidence", symbol)
	}

	candles, err := decodeTimeframes(resp.Fields["timeframes"])
	if err != nil {
		return validator.BaseSignal{}, nil, fmt.Errorf("predictor: decode timeframes for %s: %w", symbol, err)
	}

	return validator.BaseSignal{Score: score, Confidence: confidence}, candles, nil
}

func numberField(s *structpb.Struct, key string) (float64, bool) {
	v, ok := s.Fields[key]
	if !ok {
		return 0, false
	}
	nv, ok := v.Kind.(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return nv.NumberValue, true
}

// decodeTimeframes converts the optional timeframes field into candle
// slices. structpb values serialize as plain JSON, so the candle shape
// matches the rest of the wire protocol.
func decodeTimeframes(v *structpb.Value) (map[string][]market.Candle, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]market.Candle)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
