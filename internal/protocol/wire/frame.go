// Package wire implements the length-prefixed frame codec used on every
// connection: a 4-byte big-endian length header followed by that many bytes
// of opaque application payload. The codec does no I/O buffering of its own
// and carries no connection state; it only validates and (un)wraps frames.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed width of the frame length prefix in bytes.
const HeaderSize = 4

// DefaultMaxFrameSize bounds the declared payload length accepted from a
// peer. Frames declaring more than this are rejected before any allocation,
// guarding against memory exhaustion from corrupt or hostile peers.
const DefaultMaxFrameSize = 1 << 20 // 1MB

// Codec encodes and decodes frames against a configured size bound.
//
// The zero value is not usable; construct with NewCodec. A single Codec is
// safe for concurrent use since it holds only the immutable bound.
type Codec struct {
	maxFrameSize uint32
}

// NewCodec returns a Codec enforcing the given maximum payload size.
// A non-positive max falls back to DefaultMaxFrameSize.
func NewCodec(maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{maxFrameSize: uint32(maxFrameSize)}
}

// MaxFrameSize returns the configured payload bound.
func (c *Codec) MaxFrameSize() int {
	return int(c.maxFrameSize)
}

// EncodeFrame wraps payload in a length-prefixed frame.
//
// An empty payload is an encoding failure, never a valid empty frame, and a
// payload above the configured bound is rejected so the peer's decoder
// cannot be handed a frame it must refuse.
func (c *Codec) EncodeFrame(payload []byte) ([]byte, error) {
	if err := c.validatePayloadLength(len(payload)); err != nil {
		return nil, err
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// validatePayloadLength applies the encode-side bounds. Compared as
// uint64: a uint32 conversion would wrap for payloads of 4GiB and beyond
// and emit a frame declaring the wrapped length.
func (c *Codec) validatePayloadLength(n int) error {
	if n == 0 {
		return &EncodeError{Reason: "empty payload"}
	}
	if uint64(n) > uint64(c.maxFrameSize) {
		return &EncodeError{Reason: fmt.Sprintf(
			"payload length %d exceeds maximum %d", n, c.maxFrameSize)}
	}
	return nil
}

// DecodeFrame extracts the first complete frame from buf.
//
// It returns the payload, the number of bytes consumed, and an error.
// ErrNeedMoreData means buf is a prefix of a valid frame and the caller
// should retry once more bytes arrive; a *DecodeError means the frame is
// malformed and the connection that produced it should be closed.
//
// Round-trip law: for every payload p accepted by EncodeFrame,
// DecodeFrame(EncodeFrame(p)) yields p.
func (c *Codec) DecodeFrame(buf []byte) ([]byte, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrNeedMoreData
	}

	length := binary.BigEndian.Uint32(buf[:HeaderSize])
	if length == 0 {
		return nil, 0, &DecodeError{Reason: "declared length is zero"}
	}
	if length > c.maxFrameSize {
		return nil, 0, &DecodeError{Reason: fmt.Sprintf(
			"declared length %d exceeds maximum %d", length, c.maxFrameSize)}
	}

	total := HeaderSize + int(length)
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])
	return payload, total, nil
}

// ReadFrame reads exactly one frame from r.
//
// The header is validated before the payload allocation, so a peer
// declaring an oversized length is rejected without reading its body.
// Errors from r (including timeouts and io.EOF on a clean close) pass
// through unwrapped so callers can classify them.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, &DecodeError{Reason: "declared length is zero"}
	}
	if length > c.maxFrameSize {
		return nil, &DecodeError{Reason: fmt.Sprintf(
			"declared length %d exceeds maximum %d", length, c.maxFrameSize)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame encodes payload and writes the whole frame to w.
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	frame, err := c.EncodeFrame(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
