package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/sentinel"
	"mrtdreader/pkg/domain"
	"mrtdreader/pkg/testutil"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func specimenResult() *models.ScanResult {
	return testutil.SpecimenScanResult()
}

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(testSecret)
	require.NoError(t, err)
	return s
}

func TestInMemory_SaveFind(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(newSealer(t))
	id := domain.NewScanID()
	want := specimenResult()

	require.NoError(t, s.Save(ctx, id, want))

	got, err := s.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want.DocumentNumber, got.DocumentNumber)
	assert.Equal(t, want.SecondaryIdentifiers, got.SecondaryIdentifiers)
	assert.Equal(t, want.Gender, got.Gender)
	assert.Equal(t, want.AccessControl, got.AccessControl)
	assert.True(t, want.CompletedAt.Equal(got.CompletedAt))
	require.NotNil(t, got.FaceImage)
	assert.Equal(t, want.FaceImage.Bounds(), got.FaceImage.Bounds())
}

func TestInMemory_HoldsSealedBytes(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(newSealer(t))
	id := domain.NewScanID()
	require.NoError(t, s.Save(ctx, id, specimenResult()))

	s.mu.Lock()
	data := s.entries[id].data
	s.mu.Unlock()
	assert.NotContains(t, string(data), "L898902C")
	assert.NotContains(t, string(data), "ERIKSSON")
}

func TestInMemory_PlainWithoutSealer(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(nil)
	id := domain.NewScanID()
	require.NoError(t, s.Save(ctx, id, specimenResult()))

	got, err := s.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ERIKSSON", got.PrimaryIdentifier)
}

func TestInMemory_NotFound(t *testing.T) {
	s := NewInMemory(newSealer(t))
	_, err := s.Find(context.Background(), domain.NewScanID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestInMemory_SaveNilResult(t *testing.T) {
	s := NewInMemory(nil)
	assert.Error(t, s.Save(context.Background(), domain.NewScanID(), nil))
	assert.Equal(t, 0, s.Len())
}

func TestInMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := NewInMemory(newSealer(t), WithTTL(time.Minute), WithClock(clock))

	kept, expired := domain.NewScanID(), domain.NewScanID()
	require.NoError(t, s.Save(ctx, expired, specimenResult()))
	now = now.Add(30 * time.Second)
	require.NoError(t, s.Save(ctx, kept, specimenResult()))

	now = now.Add(30 * time.Second)
	_, err := s.Find(ctx, expired)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.Find(ctx, kept)
	assert.NoError(t, err)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, s.Len())
	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, s.Len())
}

func TestSealer(t *testing.T) {
	t.Run("rejects short secrets", func(t *testing.T) {
		_, err := NewSealer([]byte("short"))
		assert.Error(t, err)
	})

	t.Run("opens what it sealed", func(t *testing.T) {
		s := newSealer(t)
		id := domain.NewScanID()
		sealed, err := s.Seal(id, []byte("payload"))
		require.NoError(t, err)

		opened, err := s.Open(id, sealed)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), opened)
	})

	t.Run("nonces differ between seals", func(t *testing.T) {
		s := newSealer(t)
		id := domain.NewScanID()
		a, err := s.Seal(id, []byte("payload"))
		require.NoError(t, err)
		b, err := s.Seal(id, []byte("payload"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("binds the scan id", func(t *testing.T) {
		s := newSealer(t)
		sealed, err := s.Seal(domain.NewScanID(), []byte("payload"))
		require.NoError(t, err)

		_, err = s.Open(domain.NewScanID(), sealed)
		assert.ErrorIs(t, err, sentinel.ErrTampered)
	})

	t.Run("detects another key", func(t *testing.T) {
		id := domain.NewScanID()
		sealed, err := newSealer(t).Seal(id, []byte("payload"))
		require.NoError(t, err)

		other, err := NewSealer([]byte("another secret of sufficient size"))
		require.NoError(t, err)
		_, err = other.Open(id, sealed)
		assert.ErrorIs(t, err, sentinel.ErrTampered)
	})

	t.Run("detects truncation", func(t *testing.T) {
		_, err := newSealer(t).Open(domain.NewScanID(), []byte{1, 2, 3})
		assert.ErrorIs(t, err, sentinel.ErrTampered)
	})
}

func TestNewRedis_Validation(t *testing.T) {
	_, err := NewRedis(nil, newSealer(t), time.Minute)
	assert.Error(t, err)
}
