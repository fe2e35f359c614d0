// Package tlv encodes and decodes BER-TLV data objects as used by ISO 7816-4
// and the ICAO logical data structure.
package tlv

import (
	"errors"
	"io"
)

// MaxHeaderLen is the longest tag plus length header this package handles.
const MaxHeaderLen = 3 + 5

var (
	ErrShortHeader   = errors.New("tlv: short header")
	ErrShortValue    = errors.New("tlv: short value")
	ErrTagTooLong    = errors.New("tlv: tag longer than 3 bytes")
	ErrLengthTooLong = errors.New("tlv: unsupported length encoding")
	ErrIndefinite    = errors.New("tlv: indefinite length not supported")
)

// Object is one decoded data object.
type Object struct {
	Tag   uint32
	Value []byte
}

// IsConstructed reports whether the tag denotes a constructed object.
func IsConstructed(tag uint32) bool {
	first := tag
	for first > 0xFF {
		first >>= 8
	}
	return first&0x20 != 0
}

// EncodeTag returns the minimal big-endian encoding of tag.
func EncodeTag(tag uint32) []byte {
	switch {
	case tag > 0xFFFF:
		return []byte{byte(tag >> 16), byte(tag >> 8), byte(tag)}
	case tag > 0xFF:
		return []byte{byte(tag >> 8), byte(tag)}
	default:
		return []byte{byte(tag)}
	}
}

// EncodeLength returns the definite-form encoding of n.
func EncodeLength(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n <= 0xFF:
		return []byte{0x81, byte(n)}
	case n <= 0xFFFF:
		return []byte{0x82, byte(n >> 8), byte(n)}
	case n <= 0xFFFFFF:
		return []byte{0x83, byte(n >> 16), byte(n >> 8), byte(n)}
	default:
		return []byte{0x84, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

// Encode returns tag, length and value concatenated.
func Encode(tag uint32, value []byte) []byte {
	t := EncodeTag(tag)
	l := EncodeLength(len(value))
	out := make([]byte, 0, len(t)+len(l)+len(value))
	out = append(out, t...)
	out = append(out, l...)
	return append(out, value...)
}

// EncodeAll concatenates the encodings of objs.
func EncodeAll(objs ...Object) []byte {
	var out []byte
	for _, o := range objs {
		out = append(out, Encode(o.Tag, o.Value)...)
	}
	return out
}

// DecodeHeader parses the tag and length at the start of b.
func DecodeHeader(b []byte) (tag uint32, length int, headerLen int, err error) {
	if len(b) == 0 {
		return 0, 0, 0, ErrShortHeader
	}
	i := 0
	tag = uint32(b[i])
	i++
	if b[0]&0x1F == 0x1F {
		for {
			if i >= len(b) {
				return 0, 0, 0, ErrShortHeader
			}
			if i >= 3 {
				return 0, 0, 0, ErrTagTooLong
			}
			tag = tag<<8 | uint32(b[i])
			i++
			if b[i-1]&0x80 == 0 {
				break
			}
		}
	}
	if i >= len(b) {
		return 0, 0, 0, ErrShortHeader
	}
	first := b[i]
	i++
	switch {
	case first < 0x80:
		length = int(first)
	case first == 0x80:
		return 0, 0, 0, ErrIndefinite
	default:
		n := int(first & 0x7F)
		if n > 4 {
			return 0, 0, 0, ErrLengthTooLong
		}
		if len(b)-i < n {
			return 0, 0, 0, ErrShortHeader
		}
		for j := 0; j < n; j++ {
			length = length<<8 | int(b[i])
			i++
		}
	}
	return tag, length, i, nil
}

// Decode parses the first object in b and returns it with the remaining bytes.
func Decode(b []byte) (Object, []byte, error) {
	tag, length, hl, err := DecodeHeader(b)
	if err != nil {
		return Object{}, nil, err
	}
	if len(b)-hl < length {
		return Object{}, nil, ErrShortValue
	}
	return Object{Tag: tag, Value: b[hl : hl+length]}, b[hl+length:], nil
}

// DecodeAll parses consecutive objects until b is exhausted.
func DecodeAll(b []byte) ([]Object, error) {
	objs := make([]Object, 0)
	for len(b) > 0 {
		o, rest, err := Decode(b)
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
		b = rest
	}
	return objs, nil
}

// Find returns the first object with tag.
func Find(objs []Object, tag uint32) (Object, bool) {
	for _, o := range objs {
		if o.Tag == tag {
			return o, true
		}
	}
	return Object{}, false
}

// FindIn decodes b and returns the first object with tag.
func FindIn(b []byte, tag uint32) (Object, bool, error) {
	objs, err := DecodeAll(b)
	if err != nil {
		return Object{}, false, err
	}
	o, ok := Find(objs, tag)
	return o, ok, nil
}

// ReadHeader reads one tag and length from r, returning the header bytes consumed.
func ReadHeader(r io.Reader) (tag uint32, length int, header []byte, err error) {
	header = make([]byte, 0, MaxHeaderLen)
	one := make([]byte, 1)
	next := func() (byte, error) {
		if _, err := io.ReadFull(r, one); err != nil {
			if errors.Is(err, io.EOF) && len(header) > 0 {
				return 0, ErrShortHeader
			}
			return 0, err
		}
		header = append(header, one[0])
		return one[0], nil
	}
	b, err := next()
	if err != nil {
		return 0, 0, nil, err
	}
	if b&0x1F == 0x1F {
		for {
			c, err := next()
			if err != nil {
				return 0, 0, nil, err
			}
			if len(header) > 3 {
				return 0, 0, nil, ErrTagTooLong
			}
			if c&0x80 == 0 {
				break
			}
		}
	}
	l, err := next()
	if err != nil {
		return 0, 0, nil, err
	}
	if l > 0x80 {
		if l&0x7F > 4 {
			return 0, 0, nil, ErrLengthTooLong
		}
		for j := 0; j < int(l&0x7F); j++ {
			if _, err := next(); err != nil {
				return 0, 0, nil, err
			}
		}
	}
	tag, length, _, err = DecodeHeader(header)
	if err != nil {
		return 0, 0, nil, err
	}
	return tag, length, header, nil
}
