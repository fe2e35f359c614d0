package smcrypto

import (
	"crypto"
	"math/bits"
)

// Key derivation counters (ICAO 9303 part 11, 9.7.1).
const (
	CounterEnc      uint32 = 1
	CounterMAC      uint32 = 2
	CounterPassword uint32 = 3
)

// DeriveKey computes KDF(secret, counter) for cipher c.
func DeriveKey(p Provider, c Cipher, secret []byte, counter uint32) ([]byte, error) {
	in := make([]byte, 0, len(secret)+4)
	in = append(in, secret...)
	in = append(in, byte(counter>>24), byte(counter>>16), byte(counter>>8), byte(counter))
	sum, err := p.Digest(c.kdfHash(), in)
	if err != nil {
		return nil, err
	}
	if len(sum) < c.KeyLen() {
		return nil, ErrInvalidKeyLength
	}
	key := append([]byte(nil), sum[:c.KeyLen()]...)
	if c == Cipher3DES {
		AdjustParity(key)
	}
	return key, nil
}

// PasswordSeed returns SHA-1 of the MRZ information, the PACE password input.
func PasswordSeed(p Provider, mrzInfo string) ([]byte, error) {
	return p.Digest(crypto.SHA1, []byte(mrzInfo))
}

// BACSeed returns the first 16 bytes of SHA-1 of the MRZ information.
func BACSeed(p Provider, mrzInfo string) ([]byte, error) {
	sum, err := PasswordSeed(p, mrzInfo)
	if err != nil {
		return nil, err
	}
	return sum[:16], nil
}

// AdjustParity sets the low bit of every byte so each has odd parity, as DES keys require.
func AdjustParity(key []byte) {
	for i, b := range key {
		b &^= 1
		if bits.OnesCount8(b)%2 == 0 {
			b |= 1
		}
		key[i] = b
	}
}

// XOR returns a xor b over the shorter length.
func XOR(a, b []byte) []byte {
	n := min(len(a), len(b))
	out := make([]byte, n)
	for i := range n {
		out[i] = a[i] ^ b[i]
	}
	return out
}
