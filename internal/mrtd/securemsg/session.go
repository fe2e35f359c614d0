// Package securemsg implements ICAO 9303 secure messaging: command protection,
// response verification and the Channel that applies both around a Transport.
package securemsg

import (
	"crypto/cipher"
	"errors"
	"fmt"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/internal/mrtd/tlv"
)

// Secure messaging data object tags.
const (
	tagEncryptedData = 0x87
	tagExpectedLen   = 0x97
	tagStatusWord    = 0x99
	tagChecksum      = 0x8E
)

var (
	ErrMissingChecksum  = errors.New("securemsg: response has no checksum")
	ErrMalformedObjects = errors.New("securemsg: malformed secure messaging objects")
	ErrInvalidSSC       = errors.New("securemsg: send sequence counter has wrong length")
)

// Session holds the session keys and send sequence counter of an
// established secure messaging context.
type Session struct {
	provider smcrypto.Provider
	cipher   smcrypto.Cipher
	encKey   []byte
	macKey   []byte
	ssc      []byte
}

// NewSession creates a session. ssc must be one cipher block long.
func NewSession(p smcrypto.Provider, c smcrypto.Cipher, encKey, macKey, ssc []byte) (*Session, error) {
	if len(ssc) != c.BlockSize() {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrInvalidSSC, len(ssc), c)
	}
	return &Session{
		provider: p,
		cipher:   c,
		encKey:   append([]byte(nil), encKey...),
		macKey:   append([]byte(nil), macKey...),
		ssc:      append([]byte(nil), ssc...),
	}, nil
}

// Cipher returns the session cipher.
func (s *Session) Cipher() smcrypto.Cipher {
	return s.cipher
}

// SSC returns a copy of the current send sequence counter.
func (s *Session) SSC() []byte {
	return append([]byte(nil), s.ssc...)
}

// Wipe zeroes key material. The session is unusable afterwards.
func (s *Session) Wipe() {
	clear(s.encKey)
	clear(s.macKey)
	clear(s.ssc)
}

// Protect wraps cmd into its secure messaging form.
func (s *Session) Protect(cmd apdu.Command) (apdu.Command, error) {
	s.incrementSSC()
	bs := s.cipher.BlockSize()
	cla := cmd.CLA | apdu.CLASecureMessaging

	var do87, do97 []byte
	if len(cmd.Data) > 0 {
		enc, err := s.encrypt(smcrypto.Pad(cmd.Data, bs))
		if err != nil {
			return apdu.Command{}, err
		}
		do87 = tlv.Encode(tagEncryptedData, append([]byte{0x01}, enc...))
	}
	if cmd.Ne > 0 {
		do97 = tlv.Encode(tagExpectedLen, encodeLe(cmd.Ne))
	}

	m := concat(smcrypto.Pad([]byte{cla, cmd.INS, cmd.P1, cmd.P2}, bs), do87, do97)
	cc, err := smcrypto.MAC(s.provider, s.cipher, s.macKey, concat(s.ssc, m))
	if err != nil {
		return apdu.Command{}, err
	}

	data := concat(do87, do97, tlv.Encode(tagChecksum, cc))
	ne := 256
	if cmd.Ne > 256 || len(data) > 255 {
		ne = 65536
	}
	return apdu.Command{CLA: cla, INS: cmd.INS, P1: cmd.P1, P2: cmd.P2, Data: data, Ne: ne}, nil
}

// Unprotect verifies the checksum of a protected response and returns the
// plain response. A response without data objects is returned unchanged.
func (s *Session) Unprotect(resp apdu.Response) (apdu.Response, error) {
	s.incrementSSC()
	if len(resp.Data) == 0 {
		return resp, nil
	}

	objs, err := splitObjects(resp.Data)
	if err != nil {
		return apdu.Response{}, err
	}
	do87, has87 := objs[tagEncryptedData]
	do99, has99 := objs[tagStatusWord]
	do8e, has8e := objs[tagChecksum]
	if !has8e {
		return apdu.Response{}, ErrMissingChecksum
	}

	k := concat(s.ssc, do87.raw, do99.raw)
	if err := smcrypto.VerifyMAC(s.provider, s.cipher, s.macKey, k, do8e.value); err != nil {
		return apdu.Response{}, err
	}

	out := apdu.Response{SW: resp.SW}
	if has99 {
		if len(do99.value) != 2 {
			return apdu.Response{}, ErrMalformedObjects
		}
		out.SW = uint16(do99.value[0])<<8 | uint16(do99.value[1])
	}
	if has87 {
		if len(do87.value) < 1 || do87.value[0] != 0x01 {
			return apdu.Response{}, ErrMalformedObjects
		}
		plain, err := s.decrypt(do87.value[1:])
		if err != nil {
			return apdu.Response{}, err
		}
		data, err := smcrypto.Unpad(plain)
		if err != nil {
			return apdu.Response{}, err
		}
		out.Data = data
	}
	return out, nil
}

func (s *Session) encrypt(padded []byte) ([]byte, error) {
	b, err := s.provider.NewBlock(s.cipher, s.encKey)
	if err != nil {
		return nil, err
	}
	return smcrypto.EncryptCBC(b, s.iv(b), padded)
}

func (s *Session) decrypt(data []byte) ([]byte, error) {
	b, err := s.provider.NewBlock(s.cipher, s.encKey)
	if err != nil {
		return nil, err
	}
	return smcrypto.DecryptCBC(b, s.iv(b), data)
}

// iv is zero for 3DES and E(KSenc, SSC) for AES.
func (s *Session) iv(b cipher.Block) []byte {
	iv := make([]byte, s.cipher.BlockSize())
	if s.cipher.IsAES() {
		b.Encrypt(iv, s.ssc)
	}
	return iv
}

func (s *Session) incrementSSC() {
	for i := len(s.ssc) - 1; i >= 0; i-- {
		s.ssc[i]++
		if s.ssc[i] != 0 {
			return
		}
	}
}

func encodeLe(ne int) []byte {
	switch {
	case ne <= 255:
		return []byte{byte(ne)}
	case ne == 256:
		return []byte{0x00}
	default:
		return []byte{byte(ne >> 8), byte(ne)}
	}
}

type rawObject struct {
	raw   []byte
	value []byte
}

func splitObjects(b []byte) (map[uint32]rawObject, error) {
	out := make(map[uint32]rawObject)
	for len(b) > 0 {
		o, rest, err := tlv.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedObjects, err)
		}
		out[o.Tag] = rawObject{raw: b[:len(b)-len(rest)], value: o.Value}
		b = rest
	}
	return out, nil
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
