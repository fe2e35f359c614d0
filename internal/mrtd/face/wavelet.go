package face

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultOPJDecompress is looked up on PATH when no path is configured.
const DefaultOPJDecompress = "opj_decompress"

// ErrDecoderUnavailable reports that the OpenJPEG command line tool is missing.
var ErrDecoderUnavailable = errors.New("face: JPEG 2000 decoder unavailable")

var (
	jp2Signature = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20, 0x0D, 0x0A, 0x87, 0x0A}
	j2kSignature = []byte{0xFF, 0x4F, 0xFF, 0x51}
)

// WaveletDecoder decodes JPEG 2000 (JP2 file format or raw codestream) by
// running opj_decompress into a temporary PNG.
type WaveletDecoder struct {
	path string
}

func NewWaveletDecoder(path string) *WaveletDecoder {
	if path == "" {
		path = DefaultOPJDecompress
	}
	return &WaveletDecoder{path: path}
}

func (*WaveletDecoder) Name() string { return "jpeg2000" }

// IsJPEG2000 reports whether data starts with a JP2 or J2K signature.
func IsJPEG2000(data []byte) bool {
	return bytes.HasPrefix(data, jp2Signature) || bytes.HasPrefix(data, j2kSignature)
}

func (d *WaveletDecoder) Decode(ctx context.Context, data []byte) (image.Image, error) {
	ext := ".j2k"
	switch {
	case bytes.HasPrefix(data, jp2Signature):
		ext = ".jp2"
	case bytes.HasPrefix(data, j2kSignature):
	default:
		return nil, ErrUnrecognized
	}

	bin, err := exec.LookPath(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoderUnavailable, err)
	}

	dir, err := os.MkdirTemp("", "mrtd-face-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "face"+ext)
	out := filepath.Join(dir, "face.png")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write encoded image: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, "-i", in, "-o", out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("opj_decompress: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("open decoded image: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read decoded image: %w", err)
	}
	return img, nil
}
