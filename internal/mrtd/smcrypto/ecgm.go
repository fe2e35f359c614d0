package smcrypto

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidPoint reports an encoded point that is malformed, not on the
// curve, or the point at infinity.
var ErrInvalidPoint = errors.New("smcrypto: invalid curve point")

// Point is an uncompressed curve point, 04 || X || Y.
type Point []byte

// Group is the elliptic curve group named by a PACE domain parameter id.
// Scalars shorter than ScalarLen are read as big-endian and left-padded.
type Group interface {
	Name() string
	Order() *big.Int
	// ElementLen is the byte length of one coordinate.
	ElementLen() int
	ScalarLen() int
	Generator() Point
	// Check reports ErrInvalidPoint unless b is an uncompressed point on the curve.
	Check(b []byte) error
	ScalarMult(q Point, k []byte) (Point, error)
	ScalarBaseMult(k []byte) (Point, error)
	Add(p, q Point) (Point, error)
}

// DecodePoint validates an uncompressed point received from the chip.
func DecodePoint(g Group, b []byte) (Point, error) {
	if err := g.Check(b); err != nil {
		return nil, err
	}
	return Point(append([]byte(nil), b...)), nil
}

// RandomScalar draws a private key in [1, N-1].
func RandomScalar(p Provider, g Group) ([]byte, error) {
	n := g.Order()
	nMinusOne := new(big.Int).Sub(n, big.NewInt(1))
	b, err := p.Random(g.ScalarLen() + 8)
	if err != nil {
		return nil, err
	}
	k := new(big.Int).SetBytes(b)
	k.Mod(k, nMinusOne)
	k.Add(k, big.NewInt(1))
	return k.FillBytes(make([]byte, g.ScalarLen())), nil
}

// MapGenerator is the PACE generic mapping: G' = s * G + H, where H is the
// shared point of the mapping key agreement.
func MapGenerator(g Group, nonce []byte, h Point) (Point, error) {
	sG, err := g.ScalarBaseMult(nonce)
	if err != nil {
		return nil, err
	}
	return g.Add(sG, h)
}

// SharedSecret returns the x-coordinate of k * pub, padded to the field size.
func SharedSecret(g Group, pub Point, k []byte) ([]byte, error) {
	s, err := g.ScalarMult(pub, k)
	if err != nil {
		return nil, err
	}
	n := g.ElementLen()
	return append([]byte(nil), s[1:1+n]...), nil
}

// padScalar left-pads k to n bytes.
func padScalar(k []byte, n int) ([]byte, error) {
	if len(k) > n {
		return nil, fmt.Errorf("smcrypto: scalar of %d bytes exceeds %d", len(k), n)
	}
	out := make([]byte, n)
	copy(out[n-len(k):], k)
	return out, nil
}
