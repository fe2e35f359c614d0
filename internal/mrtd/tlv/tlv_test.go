package tlv

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLength(t *testing.T) {
	assert.Equal(t, []byte{0x7F}, EncodeLength(0x7F))
	assert.Equal(t, []byte{0x81, 0x80}, EncodeLength(0x80))
	assert.Equal(t, []byte{0x82, 0x01, 0x00}, EncodeLength(0x100))
	assert.Equal(t, []byte{0x83, 0x01, 0x00, 0x00}, EncodeLength(0x10000))
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name      string
		in        []byte
		tag       uint32
		length    int
		headerLen int
	}{
		{"one byte tag", []byte{0x60, 0x16}, 0x60, 0x16, 2},
		{"two byte tag", []byte{0x5F, 0x1F, 0x58}, 0x5F1F, 0x58, 3},
		{"long form length", []byte{0x75, 0x82, 0x3A, 0x98}, 0x75, 0x3A98, 4},
		{"three byte tag", []byte{0x5F, 0x81, 0x01, 0x81, 0xC8}, 0x5F8101, 0xC8, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, length, hl, err := DecodeHeader(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.tag, tag)
			assert.Equal(t, tt.length, length)
			assert.Equal(t, tt.headerLen, hl)
		})
	}
}

func TestDecodeHeader_Errors(t *testing.T) {
	_, _, _, err := DecodeHeader(nil)
	assert.ErrorIs(t, err, ErrShortHeader)

	_, _, _, err = DecodeHeader([]byte{0x5F})
	assert.ErrorIs(t, err, ErrShortHeader)

	_, _, _, err = DecodeHeader([]byte{0x61, 0x80})
	assert.ErrorIs(t, err, ErrIndefinite)

	_, _, _, err = DecodeHeader([]byte{0x61, 0x85, 1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrLengthTooLong)

	_, _, _, err = DecodeHeader([]byte{0x5F, 0x81, 0x81, 0x01, 0x01})
	assert.ErrorIs(t, err, ErrTagTooLong)
}

func TestDecodeNested(t *testing.T) {
	inner := Encode(0x5F1F, []byte("P<UTO"))
	outer := Encode(0x61, inner)

	obj, rest, err := Decode(outer)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, uint32(0x61), obj.Tag)
	assert.True(t, IsConstructed(obj.Tag))

	mrz, ok, err := FindIn(obj.Value, 0x5F1F)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "P<UTO", string(mrz.Value))
	assert.False(t, IsConstructed(mrz.Tag))
	assert.True(t, IsConstructed(0x7F61))
}

func TestDecode_ShortValue(t *testing.T) {
	_, _, err := Decode([]byte{0x04, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrShortValue)
}

func TestEncodeAll(t *testing.T) {
	b := EncodeAll(Object{Tag: 0x80, Value: []byte{1}}, Object{Tag: 0x83, Value: []byte{2}})
	assert.Equal(t, []byte{0x80, 0x01, 0x01, 0x83, 0x01, 0x02}, b)

	objs, err := DecodeAll(b)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	_, ok := Find(objs, 0x84)
	assert.False(t, ok)
}

func TestReadHeader(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 300)
	r := bytes.NewReader(Encode(0x7F2E, payload))

	tag, length, header, err := ReadHeader(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7F2E), tag)
	assert.Equal(t, 300, length)
	assert.Equal(t, []byte{0x7F, 0x2E, 0x82, 0x01, 0x2C}, header)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, rest)
}

func TestReadHeader_Truncated(t *testing.T) {
	_, _, _, err := ReadHeader(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)

	_, _, _, err = ReadHeader(bytes.NewReader([]byte{0x75, 0x82, 0x01}))
	assert.Error(t, err)
}
