// Package face extracts the first facial image of EF.DG2 and decodes it into
// a raster image through an ordered chain of decoders.
package face

//go:generate mockgen -source=decoder.go -destination=mocks/decoder_mock.go -package=mocks ImageDecoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

var (
	// ErrUnrecognized is returned by a decoder that does not handle the format.
	ErrUnrecognized = errors.New("face: unrecognized image format")
	// ErrNoDecoder is returned by Chain when every decoder failed.
	ErrNoDecoder = errors.New("face: no decoder could decode the image")
)

// ImageDecoder turns encoded image bytes into a raster image.
type ImageDecoder interface {
	// Name identifies the decoder in logs and metrics.
	Name() string
	Decode(ctx context.Context, data []byte) (image.Image, error)
}

// Chain tries decoders in order and returns the first success.
type Chain []ImageDecoder

// Decode returns the image and the name of the decoder that produced it.
// The joined errors of all decoders are wrapped when none succeeds.
func (c Chain) Decode(ctx context.Context, data []byte) (image.Image, string, error) {
	var errs []error
	for _, d := range c {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		img, err := d.Decode(ctx, data)
		if err == nil && img != nil {
			return img, d.Name(), nil
		}
		if err == nil {
			err = errors.New("decoder returned no image")
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}
	return nil, "", fmt.Errorf("%w: %w", ErrNoDecoder, errors.Join(errs...))
}

// DefaultChain is the wavelet decoder followed by the raster decoder.
func DefaultChain(opjPath string) Chain {
	return Chain{NewWaveletDecoder(opjPath), RasterDecoder{}}
}

// RasterDecoder handles JPEG and PNG.
type RasterDecoder struct{}

func (RasterDecoder) Name() string { return "raster" }

func (RasterDecoder) Decode(_ context.Context, data []byte) (image.Image, error) {
	switch {
	case bytes.HasPrefix(data, jpegSignature):
		return jpeg.Decode(bytes.NewReader(data))
	case bytes.HasPrefix(data, pngSignature):
		return png.Decode(bytes.NewReader(data))
	default:
		return nil, ErrUnrecognized
	}
}

var (
	jpegSignature = []byte{0xFF, 0xD8, 0xFF}
	pngSignature  = []byte("\x89PNG\r\n\x1a\n")
)
