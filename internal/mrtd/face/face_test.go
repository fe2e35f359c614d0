package face_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"mrtdreader/internal/mrtd/face"
	"mrtdreader/internal/mrtd/face/mocks"
	"mrtdreader/internal/mrtd/lds"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/pkg/testutil"
)

const missingOPJ = "/nonexistent/opj_decompress"

var jp2Header = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20, 0x0D, 0x0A, 0x87, 0x0A}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeDG2(t *testing.T, raw []byte) *lds.DG2 {
	t.Helper()
	f, err := lds.NewDecoder().Decode(models.FileDG2, bytes.NewReader(raw))
	require.NoError(t, err)
	return f.(*lds.DG2)
}

func newExtractor(opts ...face.Option) *face.Extractor {
	base := []face.Option{
		face.WithLogger(discardLogger()),
		face.WithDecoders(face.NewWaveletDecoder(missingOPJ), face.RasterDecoder{}),
	}
	return face.NewExtractor(append(base, opts...)...)
}

func TestExtract_JPEGWithProgress(t *testing.T) {
	img := testutil.JPEGImage(16, 20)
	dg2 := decodeDG2(t, testutil.DG2File(img, testutil.ImageTypeJPEG, 0, 1))

	var progress []float64
	res, err := newExtractor(face.WithChunkSize(64)).Extract(context.Background(), dg2, func(sub float64) {
		progress = append(progress, sub)
	})
	require.NoError(t, err)

	require.NotNil(t, res.Image)
	assert.Equal(t, image.Rect(0, 0, 16, 20), res.Image.Bounds())
	assert.Equal(t, "raster", res.Decoder)
	assert.Equal(t, img, res.Encoded)
	assert.NoError(t, res.DecodeErr)

	require.Len(t, progress, (len(img)+63)/64)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	for _, p := range progress[:len(progress)-1] {
		assert.Less(t, p, 1.0)
	}
	assert.Equal(t, 1.0, progress[len(progress)-1])
}

func TestExtract_PNG(t *testing.T) {
	dg2 := decodeDG2(t, testutil.DG2File(testutil.PNGImage(8, 8), testutil.ImageTypeJPEG, 2, 1))

	res, err := newExtractor().Extract(context.Background(), dg2, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Image)
	assert.Equal(t, 8, res.Image.Bounds().Dx())
	assert.Len(t, res.Info.FeaturePoints, 2)
}

func TestExtract_UndecodableImageIsNotFatal(t *testing.T) {
	dg2 := decodeDG2(t, testutil.DG2File(bytes.Repeat([]byte{0x42}, 300), testutil.ImageTypeJPEG, 0, 1))

	var last float64
	res, err := newExtractor().Extract(context.Background(), dg2, func(sub float64) { last = sub })
	require.NoError(t, err)
	assert.Nil(t, res.Image)
	assert.ErrorIs(t, res.DecodeErr, face.ErrNoDecoder)
	assert.ErrorIs(t, res.DecodeErr, face.ErrUnrecognized)
	assert.Equal(t, 1.0, last)
}

func TestExtract_JPEG2000WithoutDecoderTool(t *testing.T) {
	data := append(append([]byte(nil), jp2Header...), bytes.Repeat([]byte{0x01}, 100)...)
	dg2 := decodeDG2(t, testutil.DG2File(data, testutil.ImageTypeJPEG2000, 0, 1))

	res, err := newExtractor().Extract(context.Background(), dg2, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Image)
	assert.ErrorIs(t, res.DecodeErr, face.ErrDecoderUnavailable)
	assert.Equal(t, lds.ImageJPEG2000, res.Info.ImageDataType)
}

func TestExtract_NoFace(t *testing.T) {
	dg2 := decodeDG2(t, testutil.DG2File(nil, testutil.ImageTypeJPEG, 0, 0))

	called := false
	res, err := newExtractor().Extract(context.Background(), dg2, func(float64) { called = true })
	require.NoError(t, err)
	assert.Nil(t, res.Image)
	assert.Nil(t, res.Info)
	assert.False(t, called)
}

func TestExtract_TruncatedImageIsReadError(t *testing.T) {
	raw := testutil.DG2File(testutil.JPEGImage(16, 20), testutil.ImageTypeJPEG, 0, 1)
	dg2 := decodeDG2(t, raw[:len(raw)-10])

	_, err := newExtractor().Extract(context.Background(), dg2, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFileRead)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	f, ok := models.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, models.FileDG2, f.FileID)
}

func TestExtract_OversizedImageIsDecodeError(t *testing.T) {
	dg2 := &lds.DG2{Instances: 1, RecordImages: 1, Images: []*lds.FaceImageInfo{{ImageLength: face.MaxImageLength + 1}}}

	_, err := newExtractor().Extract(context.Background(), dg2, nil)
	assert.ErrorIs(t, err, models.ErrDecode)
}

func TestExtract_CancelBetweenChunks(t *testing.T) {
	dg2 := decodeDG2(t, testutil.DG2File(bytes.Repeat([]byte{0x42}, 4096), testutil.ImageTypeJPEG, 0, 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	_, err := newExtractor().Extract(ctx, dg2, func(float64) {
		calls++
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestChain_Order(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := mocks.NewMockImageDecoder(ctrl)
	second := mocks.NewMockImageDecoder(ctrl)
	third := mocks.NewMockImageDecoder(ctrl)
	want := image.NewGray(image.Rect(0, 0, 1, 1))
	data := []byte{0x01}

	first.EXPECT().Name().Return("first").AnyTimes()
	second.EXPECT().Name().Return("second").AnyTimes()
	gomock.InOrder(
		first.EXPECT().Decode(gomock.Any(), data).Return(nil, errors.New("bad marker")),
		second.EXPECT().Decode(gomock.Any(), data).Return(want, nil),
	)

	img, name, err := face.Chain{first, second, third}.Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Same(t, want, img)
	assert.Equal(t, "second", name)
}

func TestChain_AllFail(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := mocks.NewMockImageDecoder(ctrl)
	d.EXPECT().Name().Return("only").AnyTimes()
	d.EXPECT().Decode(gomock.Any(), gomock.Any()).Return(nil, nil)

	_, _, err := face.Chain{d}.Decode(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, face.ErrNoDecoder)
}

func TestWaveletDecoder_RunsTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the decoder tool")
	}
	dir := t.TempDir()
	fixture := filepath.Join(dir, "decoded.png")
	require.NoError(t, os.WriteFile(fixture, testutil.PNGImage(12, 7), 0o600))
	tool := filepath.Join(dir, "opj_decompress")
	script := "#!/bin/sh\n[ \"$1\" = \"-i\" ] && [ -s \"$2\" ] || exit 1\ncp \"" + fixture + "\" \"$4\"\n"
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	codestream := append([]byte{0xFF, 0x4F, 0xFF, 0x51}, bytes.Repeat([]byte{0x00}, 32)...)
	img, err := face.NewWaveletDecoder(tool).Decode(context.Background(), codestream)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 7), img.Bounds())
}

func TestWaveletDecoder_ToolFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the decoder tool")
	}
	tool := filepath.Join(t.TempDir(), "opj_decompress")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\necho 'corrupt codestream' >&2\nexit 1\n"), 0o755))

	_, err := face.NewWaveletDecoder(tool).Decode(context.Background(), jp2Header)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt codestream")
}

func TestDecoders_RejectForeignFormats(t *testing.T) {
	ctx := context.Background()
	_, err := face.NewWaveletDecoder(missingOPJ).Decode(ctx, testutil.JPEGImage(2, 2))
	assert.ErrorIs(t, err, face.ErrUnrecognized)

	_, err = face.RasterDecoder{}.Decode(ctx, jp2Header)
	assert.ErrorIs(t, err, face.ErrUnrecognized)

	assert.True(t, face.IsJPEG2000(jp2Header))
	assert.False(t, face.IsJPEG2000(testutil.PNGImage(1, 1)))
}
