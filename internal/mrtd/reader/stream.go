package reader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/tlv"
)

// DefaultBlockSize keeps a protected READ BINARY response within a short APDU.
const DefaultBlockSize = 0xDF

// headerProbeLen is enough for the tag and length of any LDS file.
const headerProbeLen = 8

// blockSizes are tried in turn when the chip rejects a block length.
var blockSizes = []int{0xDF, 0xC0, 0xA0, 0x80, 0x60, 0x40, 0x20}

var (
	ErrEmptyRead = errors.New("reader: chip returned no data")
	ErrBadOffset = errors.New("reader: chip returned malformed odd-instruction data")
)

// Stream reads one elementary file from the chip on demand. The declared length
// comes from the file's own TLV header; reads past it return io.EOF.
type Stream struct {
	ctx   context.Context
	ch    apdu.Channel
	id    models.FileID
	block int

	total   int
	fetched int
	read    int
	buf     []byte
	err     error
}

// Open selects the file and reads its header.
func Open(ctx context.Context, ch apdu.Channel, id models.FileID, blockSize int) (*Stream, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	resp, err := ch.Transmit(ctx, apdu.SelectFile(id.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", id, err)
	}
	if err := resp.Check(); err != nil {
		return nil, fmt.Errorf("select %s: %w", id, err)
	}

	s := &Stream{ctx: ctx, ch: ch, id: id, block: blockSize}
	head, err := s.fetch(0, headerProbeLen)
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", id, err)
	}
	_, length, headerLen, err := tlv.DecodeHeader(head)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", id, err)
	}
	s.total = headerLen + length
	if len(head) > s.total {
		head = head[:s.total]
	}
	s.buf = head
	s.fetched = len(head)
	return s, nil
}

// Len is the declared length of the file, header included.
func (s *Stream) Len() int { return s.total }

// Offset is the number of bytes delivered so far.
func (s *Stream) Offset() int { return s.read }

// Err returns the chip error that stopped the stream, if any. Decoding errors
// caused by such a failure are read errors rather than format errors.
func (s *Stream) Err() error { return s.err }

func (s *Stream) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		if s.fetched >= s.total {
			return 0, io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return 0, err
		}
		data, err := s.fetch(s.fetched, min(s.block, s.total-s.fetched))
		if err != nil {
			s.err = fmt.Errorf("read %s at %d: %w", s.id, s.fetched, err)
			return 0, s.err
		}
		if rest := s.total - s.fetched; len(data) > rest {
			data = data[:rest]
		}
		s.fetched += len(data)
		s.buf = data
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	s.read += n
	return n, nil
}

// fetch issues READ BINARY at offset, stepping down the block size while the
// chip reports a wrong length.
func (s *Stream) fetch(offset, n int) ([]byte, error) {
	for {
		cmd := apdu.ReadBinary(offset, n)
		odd := offset > apdu.MaxReadOffset
		if odd {
			cmd = apdu.ReadBinaryOdd(offset, n)
		}
		resp, err := s.ch.Transmit(s.ctx, cmd)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.SW == apdu.SWSuccess, resp.SW == apdu.SWEndOfFile:
		case resp.SW&0xFF00 == 0x6C00 && int(resp.SW&0xFF) > 0 && int(resp.SW&0xFF) < n:
			n = int(resp.SW & 0xFF)
			s.block = min(s.block, n)
			continue
		case resp.SW == apdu.SWWrongLength:
			smaller, ok := nextBlockSize(n)
			if !ok {
				return nil, resp.Check()
			}
			n = smaller
			s.block = min(s.block, n)
			continue
		default:
			return nil, resp.Check()
		}

		data := resp.Data
		if odd {
			o, _, err := tlv.Decode(data)
			if err != nil || o.Tag != 0x53 {
				return nil, ErrBadOffset
			}
			data = o.Value
		}
		if len(data) == 0 {
			return nil, ErrEmptyRead
		}
		return data, nil
	}
}

func nextBlockSize(n int) (int, bool) {
	for _, b := range blockSizes {
		if b < n {
			return b, true
		}
	}
	return 0, false
}
