// Package network provides the wire primitives of the front door: the
// length-prefixed frame codec and per-connection session state. The accept
// loop and bus bridging live in the network module built on top of these.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize is the default maximum payload size: 1 MiB.
const DefaultMaxFrameSize = 1 << 20

// Codec errors. ErrFrameTooLarge and ErrEmptyFrame are per-message protocol
// violations: the frame is discarded but the connection stays usable.
var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("frame length is zero")
)

// Codec reads and writes frames: a 4-byte big-endian length prefix followed
// by exactly that many bytes of UTF-8 payload.
type Codec struct {
	// MaxFrameSize bounds payload size in both directions.
	MaxFrameSize uint32
}

// NewCodec returns a codec with the given limit, or the default when zero.
func NewCodec(maxFrameSize uint32) Codec {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return Codec{MaxFrameSize: maxFrameSize}
}

// ReadFrame reads one frame from r. A zero or over-limit length returns
// ErrEmptyFrame or ErrFrameTooLarge with the connection still in sync: the
// oversized payload is consumed and discarded so the next frame can be read.
// Transport errors (including short reads) are returned as-is and mean the
// connection is no longer usable.
func (c Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])

	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > c.MaxFrameSize {
		// Skip the advertised payload to stay framed.
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, c.MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes one frame to w. Oversized payloads are rejected outright,
// never truncated; nothing is written in that case.
func (c Codec) WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if uint64(len(payload)) > uint64(c.MaxFrameSize) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), c.MaxFrameSize)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
