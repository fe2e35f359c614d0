package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const headerSize = 4

// DefaultMaxFrameSize fits an extended-length APDU and its response.
const DefaultMaxFrameSize = 64*1024 + 16

var (
	ErrFrameTooLarge = errors.New("relay: frame too large")
	ErrEmptyFrame    = errors.New("relay: empty frame")
)

// WriteFrame writes payload behind a 4-byte big-endian length.
//
//	[4B length][N bytes APDU]
func WriteFrame(w io.Writer, payload []byte, limit int) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > limit {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), limit)
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(payload))) // #nosec G115 -- bounded by limit
	copy(buf[headerSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if uint64(n) > uint64(limit) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limit)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
