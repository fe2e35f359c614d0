// Package smcrypto provides the cryptographic building blocks of MRTD access
// control and secure messaging: key derivation, ISO 9797-1 padding, retail
// MAC and CMAC checksums, all on top of an injectable primitive Provider.
package smcrypto

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ProtonMail/go-crypto/brainpool"
)

var (
	ErrUnsupportedCipher           = errors.New("smcrypto: unsupported cipher")
	ErrUnsupportedDigest           = errors.New("smcrypto: unsupported digest")
	ErrUnsupportedDomainParameters = errors.New("smcrypto: unsupported domain parameters")
	ErrInvalidKeyLength            = errors.New("smcrypto: invalid key length")
)

// Provider supplies cryptographic primitives. Negotiation code receives one
// explicitly instead of relying on process-wide registration.
type Provider interface {
	Random(n int) ([]byte, error)
	NewBlock(c Cipher, key []byte) (cipher.Block, error)
	Digest(h crypto.Hash, data []byte) ([]byte, error)
	Group(paramID int) (Group, error)
}

// Standardized domain parameter identifiers (BSI TR-03110 part 3).
// The 192-bit sets (8, 9) and Brainpool P-224/P-320 (11, 14) are not supported.
const (
	ParamNISTP224        = 10
	ParamNISTP256        = 12
	ParamBrainpoolP256r1 = 13
	ParamNISTP384        = 15
	ParamBrainpoolP384r1 = 16
	ParamBrainpoolP512r1 = 17
	ParamNISTP521        = 18
)

// StdProvider implements Provider with the Go standard library, nistec for
// the NIST curves and go-crypto for the Brainpool curves.
type StdProvider struct{}

// NewStdProvider returns a Provider backed by crypto/*.
func NewStdProvider() *StdProvider {
	return &StdProvider{}
}

func (StdProvider) Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

func (StdProvider) NewBlock(c Cipher, key []byte) (cipher.Block, error) {
	if len(key) != c.KeyLen() {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidKeyLength, c, c.KeyLen(), len(key))
	}
	switch c {
	case CipherDES:
		return des.NewCipher(key)
	case Cipher3DES:
		k := make([]byte, 0, 24)
		k = append(k, key...)
		k = append(k, key[:8]...)
		return des.NewTripleDESCipher(k)
	case CipherAES128, CipherAES192, CipherAES256:
		return aes.NewCipher(key)
	default:
		return nil, ErrUnsupportedCipher
	}
}

func (StdProvider) Digest(h crypto.Hash, data []byte) ([]byte, error) {
	switch h {
	case crypto.SHA1:
		sum := sha1.Sum(data)
		return sum[:], nil
	case crypto.SHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	default:
		return nil, ErrUnsupportedDigest
	}
}

func (StdProvider) Group(paramID int) (Group, error) {
	switch paramID {
	case ParamNISTP224:
		return groupP224, nil
	case ParamNISTP256:
		return groupP256, nil
	case ParamNISTP384:
		return groupP384, nil
	case ParamNISTP521:
		return groupP521, nil
	case ParamBrainpoolP256r1:
		return curveGroup{curve: brainpool.P256r1()}, nil
	case ParamBrainpoolP384r1:
		return curveGroup{curve: brainpool.P384r1()}, nil
	case ParamBrainpoolP512r1:
		return curveGroup{curve: brainpool.P512r1()}, nil
	default:
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedDomainParameters, paramID)
	}
}

var _ Provider = StdProvider{}
