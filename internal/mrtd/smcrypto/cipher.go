package smcrypto

import (
	"crypto"
	"crypto/cipher"
	"errors"
	"fmt"
)

// Cipher selects the block cipher used for access control and secure messaging.
type Cipher int

const (
	CipherDES Cipher = iota + 1
	Cipher3DES
	CipherAES128
	CipherAES192
	CipherAES256
)

func (c Cipher) String() string {
	switch c {
	case CipherDES:
		return "DES"
	case Cipher3DES:
		return "3DES"
	case CipherAES128:
		return "AES-128"
	case CipherAES192:
		return "AES-192"
	case CipherAES256:
		return "AES-256"
	default:
		return fmt.Sprintf("Cipher(%d)", int(c))
	}
}

// KeyLen is the key length in bytes. 3DES uses two-key form.
func (c Cipher) KeyLen() int {
	switch c {
	case CipherDES:
		return 8
	case Cipher3DES, CipherAES128:
		return 16
	case CipherAES192:
		return 24
	case CipherAES256:
		return 32
	default:
		return 0
	}
}

// BlockSize is the cipher block size in bytes.
func (c Cipher) BlockSize() int {
	if c.IsAES() {
		return 16
	}
	return 8
}

// IsAES reports whether c is one of the AES variants.
func (c Cipher) IsAES() bool {
	return c == CipherAES128 || c == CipherAES192 || c == CipherAES256
}

// kdfHash is SHA-1 for 3DES and AES-128, SHA-256 for longer AES keys.
func (c Cipher) kdfHash() crypto.Hash {
	if c == CipherAES192 || c == CipherAES256 {
		return crypto.SHA256
	}
	return crypto.SHA1
}

var (
	ErrBadPadding    = errors.New("smcrypto: bad padding")
	ErrNotBlockAlign = errors.New("smcrypto: input not a multiple of the block size")
)

// Pad applies ISO/IEC 9797-1 padding method 2.
func Pad(data []byte, blockSize int) []byte {
	n := len(data) + 1
	if r := n % blockSize; r != 0 {
		n += blockSize - r
	}
	out := make([]byte, n)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

// Unpad removes ISO/IEC 9797-1 padding method 2.
func Unpad(data []byte) ([]byte, error) {
	i := len(data) - 1
	for i >= 0 && data[i] == 0x00 {
		i--
	}
	if i < 0 || data[i] != 0x80 {
		return nil, ErrBadPadding
	}
	return data[:i], nil
}

// EncryptCBC encrypts block-aligned data in CBC mode.
func EncryptCBC(b cipher.Block, iv, data []byte) ([]byte, error) {
	if len(data)%b.BlockSize() != 0 {
		return nil, ErrNotBlockAlign
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(b, iv).CryptBlocks(out, data)
	return out, nil
}

// DecryptCBC decrypts block-aligned data in CBC mode.
func DecryptCBC(b cipher.Block, iv, data []byte) ([]byte, error) {
	if len(data)%b.BlockSize() != 0 {
		return nil, ErrNotBlockAlign
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(b, iv).CryptBlocks(out, data)
	return out, nil
}

// ZeroIV returns an all-zero IV for c.
func ZeroIV(c Cipher) []byte {
	return make([]byte, c.BlockSize())
}
