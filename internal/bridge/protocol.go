package bridge

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire frame: a uint32 big-endian length prefix followed by that many bytes
// of UTF-8 JSON.
const lengthPrefixSize = 4

// DefaultMaxFrame bounds a single frame body. Agent payloads are small;
// anything near this size is a corrupt prefix or a misbehaving peer.
const DefaultMaxFrame = 1 << 20

// ErrFrameTooLarge reports a length prefix beyond the configured limit.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// EncodeFrame serializes the envelope and prepends its length prefix.
func EncodeFrame(env Envelope, maxFrame int) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if maxFrame > 0 && len(body) > maxFrame {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(buf[:lengthPrefixSize], uint32(len(body)))
	copy(buf[lengthPrefixSize:], body)
	return buf, nil
}

// FrameReader accumulates raw bytes from a connection and yields complete
// envelopes. One instance per connection; not safe for concurrent use.
type FrameReader struct {
	buf      []byte
	maxFrame int
}

// NewFrameReader builds a reader with the given frame size limit.
// Non-positive limits fall back to DefaultMaxFrame.
func NewFrameReader(maxFrame int) *FrameReader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &FrameReader{maxFrame: maxFrame}
}

// Feed appends newly read bytes to the accumulator.
func (r *FrameReader) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Buffered reports how many bytes are waiting for a complete frame.
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}

// Next returns the next complete envelope. ok is false when the buffer does
// not yet hold a full frame; the buffered bytes are retained for the next
// Feed. Errors are per-message: a malformed body costs that frame, an
// oversized length prefix costs the buffer, and in both cases the caller
// can keep the connection open and continue reading.
func (r *FrameReader) Next() (Envelope, bool, error) {
	if len(r.buf) < lengthPrefixSize {
		return Envelope{}, false, nil
	}

	length := int(binary.BigEndian.Uint32(r.buf[:lengthPrefixSize]))
	if length > r.maxFrame {
		// The prefix cannot be trusted, so there is no way to resynchronize
		// mid-stream; discard what we have and let the peer start over.
		r.buf = nil
		return Envelope{}, false, fmt.Errorf("%w: length %d, limit %d", ErrFrameTooLarge, length, r.maxFrame)
	}

	total := lengthPrefixSize + length
	if len(r.buf) < total {
		return Envelope{}, false, nil
	}

	body := r.buf[lengthPrefixSize:total]
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		r.buf = r.buf[total:]
		return Envelope{}, false, fmt.Errorf("decode frame: %w", err)
	}

	r.buf = r.buf[total:]
	return env, true, nil
}
