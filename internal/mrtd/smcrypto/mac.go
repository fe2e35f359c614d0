package smcrypto

import (
	"crypto/cipher"
	"crypto/subtle"
	"errors"
)

// MACLen is the length of every checksum and authentication token.
const MACLen = 8

// ErrMACMismatch reports a checksum that does not verify.
var ErrMACMismatch = errors.New("smcrypto: checksum mismatch")

// MAC computes the secure messaging checksum of pad(data): ISO 9797-1 MAC
// algorithm 3 for 3DES, CMAC truncated to 8 bytes for AES.
func MAC(p Provider, c Cipher, key, data []byte) ([]byte, error) {
	padded := Pad(data, c.BlockSize())
	if c == Cipher3DES {
		return retailMAC(p, key, padded)
	}
	b, err := p.NewBlock(c, key)
	if err != nil {
		return nil, err
	}
	return CMAC(b, padded)[:MACLen], nil
}

// AuthToken computes a PACE authentication token. For AES the data is not
// padded before CMAC.
func AuthToken(p Provider, c Cipher, key, data []byte) ([]byte, error) {
	if !c.IsAES() {
		return MAC(p, c, key, data)
	}
	b, err := p.NewBlock(c, key)
	if err != nil {
		return nil, err
	}
	return CMAC(b, data)[:MACLen], nil
}

// VerifyMAC recomputes the checksum of data and compares it in constant time.
func VerifyMAC(p Provider, c Cipher, key, data, want []byte) error {
	got, err := MAC(p, c, key, data)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMACMismatch
	}
	return nil
}

// retailMAC is ISO/IEC 9797-1 MAC algorithm 3 with single DES over already
// padded data and a two-key 3DES key.
func retailMAC(p Provider, key, padded []byte) ([]byte, error) {
	if len(key) != Cipher3DES.KeyLen() {
		return nil, ErrInvalidKeyLength
	}
	if len(padded)%8 != 0 {
		return nil, ErrNotBlockAlign
	}
	k1, err := p.NewBlock(CipherDES, key[:8])
	if err != nil {
		return nil, err
	}
	k2, err := p.NewBlock(CipherDES, key[8:16])
	if err != nil {
		return nil, err
	}
	y := make([]byte, 8)
	for i := 0; i < len(padded); i += 8 {
		subtle.XORBytes(y, y, padded[i:i+8])
		k1.Encrypt(y, y)
	}
	k2.Decrypt(y, y)
	k1.Encrypt(y, y)
	return y, nil
}

// CMAC computes the full-length CMAC (NIST SP 800-38B) of msg.
func CMAC(b cipher.Block, msg []byte) []byte {
	bs := b.BlockSize()
	k1, k2 := cmacSubkeys(b)

	n := (len(msg) + bs - 1) / bs
	complete := n > 0 && len(msg)%bs == 0
	if n == 0 {
		n = 1
	}

	last := make([]byte, bs)
	if complete {
		subtle.XORBytes(last, msg[(n-1)*bs:], k1)
	} else {
		tail := msg[(n-1)*bs:]
		copy(last, tail)
		last[len(tail)] = 0x80
		subtle.XORBytes(last, last, k2)
	}

	x := make([]byte, bs)
	for i := 0; i < n-1; i++ {
		subtle.XORBytes(x, x, msg[i*bs:(i+1)*bs])
		b.Encrypt(x, x)
	}
	subtle.XORBytes(x, x, last)
	b.Encrypt(x, x)
	return x
}

func cmacSubkeys(b cipher.Block) ([]byte, []byte) {
	bs := b.BlockSize()
	rb := byte(0x87)
	if bs == 8 {
		rb = 0x1B
	}
	l := make([]byte, bs)
	b.Encrypt(l, l)
	k1 := shiftLeft(l, rb)
	k2 := shiftLeft(k1, rb)
	return k1, k2
}

func shiftLeft(in []byte, rb byte) []byte {
	out := make([]byte, len(in))
	var carry byte
	for i := len(in) - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if in[0]&0x80 != 0 {
		out[len(out)-1] ^= rb
	}
	return out
}
