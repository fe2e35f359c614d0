package face

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"

	"mrtdreader/internal/mrtd/lds"
	"mrtdreader/internal/mrtd/models"
)

const (
	// DefaultChunkSize is the number of image bytes read between progress reports.
	DefaultChunkSize = 1024
	// MaxImageLength bounds the declared length of a facial image.
	MaxImageLength = 4 << 20
)

// Result is the outcome of extracting the face image. Image is nil when the
// data group holds no face or no decoder accepted the bytes.
type Result struct {
	Image     image.Image
	Decoder   string
	Info      *lds.FaceImageInfo
	Encoded   []byte
	DecodeErr error
}

// Extractor streams the first facial image out of a decoded EF.DG2.
type Extractor struct {
	chunkSize int
	decoders  Chain
	logger    *slog.Logger
}

type Option func(*Extractor)

// WithChunkSize sets how many bytes are read between progress reports.
func WithChunkSize(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithDecoders replaces the decoder chain.
func WithDecoders(decoders ...ImageDecoder) Option {
	return func(e *Extractor) {
		e.decoders = Chain(decoders)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor creates an Extractor with the default decoder chain.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		chunkSize: DefaultChunkSize,
		decoders:  DefaultChain(""),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the first image record of dg2 in chunks, reporting the
// fraction read after each one, then decodes it. Progress is non-decreasing
// and reaches 1 only once the declared image length has been read.
//
// A failed read is a FileReadError for EF.DG2 and a cancelled ctx returns its
// error. A failed decode is not an error: Result.Image stays nil and
// Result.DecodeErr says why.
func (e *Extractor) Extract(ctx context.Context, dg2 *lds.DG2, onProgress func(sub float64)) (*Result, error) {
	if dg2 == nil || len(dg2.Images) == 0 {
		e.logger.InfoContext(ctx, "no facial image in EF.DG2")
		return &Result{}, nil
	}
	info := dg2.Images[0]
	total := info.ImageLength
	if total > MaxImageLength {
		return nil, models.DecodeError(models.FileDG2, fmt.Errorf("image length %d exceeds %d", total, MaxImageLength))
	}

	data, err := e.stream(ctx, info.Image(), total, onProgress)
	if err != nil {
		return nil, err
	}

	res := &Result{Info: info, Encoded: data}
	img, name, err := e.decoders.Decode(ctx, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.WarnContext(ctx, "face image not decoded",
			"image_type", info.ImageDataType.String(),
			"length", total,
			"error", err,
		)
		res.DecodeErr = err
		return res, nil
	}
	res.Image = img
	res.Decoder = name
	return res, nil
}

func (e *Extractor) stream(ctx context.Context, src io.Reader, total int, onProgress func(float64)) ([]byte, error) {
	report := func(read int) {
		if onProgress == nil {
			return
		}
		if total == 0 {
			onProgress(1)
			return
		}
		onProgress(float64(read) / float64(total))
	}

	buf := make([]byte, total)
	read := 0
	if total == 0 {
		report(0)
		return buf, nil
	}
	for read < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(e.chunkSize, total-read)
		if _, err := io.ReadFull(src, buf[read:read+n]); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, models.FileReadError(models.FileDG2, fmt.Errorf("read face image at %d of %d: %w", read, total, err))
		}
		read += n
		report(read)
	}
	return buf, nil
}
