package bridge

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"genx-core/internal/signal"
)

func testSignal() signal.TradingSignal {
	return signal.TradingSignal{
		ID:          "sig-001",
		Symbol:      "EURUSD",
		Action:      signal.ActionBuy,
		Volume:      0.5,
		StopLoss:    1.0950,
		TakeProfit:  1.1150,
		MagicNumber: 123456,
		Comment:     "GenX",
		Confidence:  0.82,
		CreatedAt:   time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestFrameRoundTrip(t *testing.T) {
	want := testSignal()
	env, err := NewSignalEnvelope(want)
	if err != nil {
		t.Fatalf("NewSignalEnvelope returned error: %v", err)
	}

	frame, err := EncodeFrame(env, 0)
	if err != nil {
		t.Fatalf("EncodeFrame returned error: %v", err)
	}

	r := NewFrameReader(0)
	r.Feed(frame)

	decoded, ok, err := r.Next()
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if decoded.Type != TypeSignal {
		t.Fatalf("Type=%v, expected SIGNAL", decoded.Type)
	}
	if _, perr := time.Parse(time.RFC3339, decoded.Timestamp); perr != nil {
		t.Fatalf("Timestamp %q is not ISO-8601: %v", decoded.Timestamp, perr)
	}

	payload, err := decoded.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload returned error: %v", err)
	}
	got, isSignal := payload.(signal.TradingSignal)
	if !isSignal {
		t.Fatalf("payload type %T, expected TradingSignal", payload)
	}
	if got.ID != want.ID || got.Symbol != want.Symbol || got.Action != want.Action {
		t.Fatalf("payload=%+v, expected %+v", got, want)
	}
	if got.Volume != want.Volume || got.StopLoss != want.StopLoss || got.TakeProfit != want.TakeProfit {
		t.Fatalf("payload prices=%+v, expected %+v", got, want)
	}
	if got.MagicNumber != want.MagicNumber || got.Confidence != want.Confidence {
		t.Fatalf("payload attribution=%+v, expected %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("CreatedAt=%v, expected %v", got.CreatedAt, want.CreatedAt)
	}

	if r.Buffered() != 0 {
		t.Fatalf("Buffered=%d, expected empty", r.Buffered())
	}
	if _, ok, _ := r.Next(); ok {
		t.Fatal("reader yielded a second message from one frame")
	}
}

// The decoder must yield nothing until every byte has arrived, regardless
// of how the frame is split across reads, then yield exactly one message.
func TestFrameReaderChunkedDelivery(t *testing.T) {
	env, _ := NewCommandEnvelope("get_signal", nil)
	frame, err := EncodeFrame(env, 0)
	if err != nil {
		t.Fatalf("EncodeFrame returned error: %v", err)
	}

	for split := 1; split < len(frame); split++ {
		r := NewFrameReader(0)

		r.Feed(frame[:split])
		if _, ok, err := r.Next(); ok || err != nil {
			t.Fatalf("split=%d: ok=%v err=%v on partial frame", split, ok, err)
		}

		r.Feed(frame[split:])
		if _, ok, err := r.Next(); !ok || err != nil {
			t.Fatalf("split=%d: ok=%v err=%v on complete frame", split, ok, err)
		}
		if _, ok, _ := r.Next(); ok {
			t.Fatalf("split=%d: more than one message", split)
		}
	}
}

func TestFrameReaderMultipleFramesPerFeed(t *testing.T) {
	r := NewFrameReader(0)

	var stream []byte
	for i := 0; i < 3; i++ {
		env, _ := NewCommandEnvelope("status", map[string]any{"seq": i})
		frame, _ := EncodeFrame(env, 0)
		stream = append(stream, frame...)
	}
	r.Feed(stream)

	for i := 0; i < 3; i++ {
		env, ok, err := r.Next()
		if err != nil || !ok {
			t.Fatalf("frame %d: ok=%v err=%v", i, ok, err)
		}
		if env.Type != TypeCommand {
			t.Fatalf("frame %d: Type=%v", i, env.Type)
		}
	}
	if _, ok, _ := r.Next(); ok {
		t.Fatal("reader yielded a fourth message")
	}
}

// A header claiming length=1000 with only 50 bytes on hand is incomplete:
// no message, no error, buffer retained.
func TestFrameReaderIncompleteFrameRetained(t *testing.T) {
	r := NewFrameReader(0)

	partial := make([]byte, 50)
	binary.BigEndian.PutUint32(partial[:4], 1000)

	r.Feed(partial)
	env, ok, err := r.Next()
	if ok {
		t.Fatalf("decoded %+v from an incomplete frame", env)
	}
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if r.Buffered() != 50 {
		t.Fatalf("Buffered=%d, expected 50 bytes retained", r.Buffered())
	}
}

// An untrusted length prefix discards the buffer but the reader keeps
// working for subsequent well-formed frames.
func TestFrameReaderOversizedPrefix(t *testing.T) {
	r := NewFrameReader(1024)

	huge := make([]byte, 8)
	binary.BigEndian.PutUint32(huge[:4], 1<<30)
	r.Feed(huge)

	_, ok, err := r.Next()
	if ok {
		t.Fatal("decoded a message from an oversized prefix")
	}
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err=%v, expected ErrFrameTooLarge", err)
	}
	if r.Buffered() != 0 {
		t.Fatalf("Buffered=%d, expected buffer dropped", r.Buffered())
	}

	env, _ := NewCommandEnvelope("status", nil)
	frame, _ := EncodeFrame(env, 1024)
	r.Feed(frame)
	if _, ok, err := r.Next(); !ok || err != nil {
		t.Fatalf("ok=%v err=%v after recovery feed", ok, err)
	}
}

// Malformed JSON costs exactly one frame; the next frame in the buffer
// still decodes.
func TestFrameReaderMalformedBodySkipped(t *testing.T) {
	r := NewFrameReader(0)

	bad := []byte(`{"type": not json`)
	frame := make([]byte, 4+len(bad))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(bad)))
	copy(frame[4:], bad)
	r.Feed(frame)

	good, _ := NewCommandEnvelope("status", nil)
	goodFrame, _ := EncodeFrame(good, 0)
	r.Feed(goodFrame)

	if _, ok, err := r.Next(); ok || err == nil {
		t.Fatalf("ok=%v err=%v, expected a decode error", ok, err)
	}
	if env, ok, err := r.Next(); !ok || err != nil {
		t.Fatalf("ok=%v err=%v, expected the following frame to decode", ok, err)
	} else if env.Type != TypeCommand {
		t.Fatalf("Type=%v, expected COMMAND", env.Type)
	}
}

func TestEncodeFrameRejectsOversizedBody(t *testing.T) {
	env, _ := NewCommandEnvelope("status", map[string]any{"blob": string(make([]byte, 2048))})
	if _, err := EncodeFrame(env, 64); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err=%v, expected ErrFrameTooLarge", err)
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	env := Envelope{Type: "PING", Data: []byte(`{}`), Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if _, err := env.DecodePayload(); err == nil {
		t.Fatal("expected an error for an unknown type tag")
	}
}
