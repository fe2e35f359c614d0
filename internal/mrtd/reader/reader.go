// Package reader retrieves elementary files from the chip through a negotiated
// channel and hands them to a DataGroupDecoder.
package reader

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/lds"
	"mrtdreader/internal/mrtd/models"
)

// Reader reads and decodes elementary files.
type Reader struct {
	decoder   lds.DataGroupDecoder
	blockSize int
	logger    *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithDecoder replaces the default LDS decoder.
func WithDecoder(d lds.DataGroupDecoder) Option {
	return func(r *Reader) {
		r.decoder = d
	}
}

// WithBlockSize sets the initial READ BINARY length.
func WithBlockSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.blockSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// New creates a Reader.
func New(opts ...Option) *Reader {
	r := &Reader{
		decoder:   lds.NewDecoder(),
		blockSize: DefaultBlockSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open selects id and returns a stream over its contents.
func (r *Reader) Open(ctx context.Context, ch apdu.Channel, id models.FileID) (*Stream, error) {
	return Open(ctx, ch, id, r.blockSize)
}

// ReadFile returns the raw contents of id.
func (r *Reader) ReadFile(ctx context.Context, ch apdu.Channel, id models.FileID) ([]byte, error) {
	s, err := r.Open(ctx, ch, id)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(s)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Read selects, reads and decodes id. Failures are returned as a
// *models.Failure: FileReadError when the chip exchange failed, DecodeError
// when the bytes did not decode.
//
// A decoded EF.DG2 still reads from the chip while its image is consumed, so
// the channel must stay open until then.
func (r *Reader) Read(ctx context.Context, ch apdu.Channel, id models.FileID) (lds.File, error) {
	s, err := r.Open(ctx, ch, id)
	if err != nil {
		return nil, models.FileReadError(id, err)
	}
	r.logger.DebugContext(ctx, "reading file",
		"file_id", id.String(),
		"length", s.Len(),
	)

	f, err := r.decoder.Decode(id, s)
	if err != nil {
		if s.Err() != nil {
			return nil, models.FileReadError(id, s.Err())
		}
		return nil, models.DecodeError(id, err)
	}
	if f == nil || f.FileID() != id {
		return nil, models.DecodeError(id, fmt.Errorf("decoder returned %v for %s", f, id))
	}
	return f, nil
}
