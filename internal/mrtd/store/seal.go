package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"mrtdreader/internal/sentinel"
	"mrtdreader/pkg/domain"
)

const (
	sealKeySize = 32
	sealInfo    = "mrtdreader result seal v1"
)

// MinSecretLength is the shortest secret NewSealer accepts.
const MinSecretLength = 16

// Sealer encrypts stored results with AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret with HKDF-SHA256.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("result seal secret must be at least %d bytes", MinSecretLength)
	}
	key := make([]byte, sealKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive result seal key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext, bound to id.
func (s *Sealer) Seal(id domain.ScanID, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(id.String())), nil
}

// Open reverses Seal. Data sealed under another id or key fails with
// sentinel.ErrTampered.
func (s *Sealer) Open(id domain.ScanID, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, fmt.Errorf("sealed result too short: %w", sentinel.ErrTampered)
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(id.String()))
	if err != nil {
		return nil, errors.Join(sentinel.ErrTampered, err)
	}
	return plaintext, nil
}
