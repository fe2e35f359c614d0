package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/securemsg"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/internal/mrtd/tlv"
)

// Data object tags of the PACE exchange.
const (
	tagDynamicAuthData uint32 = 0x7C
	tagEncryptedNonce  uint32 = 0x80
	tagMappingIFD      uint32 = 0x81
	tagMappingIC       uint32 = 0x82
	tagEphemeralIFD    uint32 = 0x83
	tagEphemeralIC     uint32 = 0x84
	tagTokenIFD        uint32 = 0x85
	tagTokenIC         uint32 = 0x86
	tagPublicKey       uint32 = 0x7F49
	tagOID             uint32 = 0x06
	tagECPoint         uint32 = 0x86

	tagProtocolRef  uint32 = 0x80
	tagPasswordRef  uint32 = 0x83
	tagParameterRef uint32 = 0x84
)

// passwordMRZ references the MRZ as the PACE password.
const passwordMRZ = 0x01

var (
	ErrMissingObject      = errors.New("access: response lacks expected data object")
	ErrEphemeralKeyReused = errors.New("access: chip echoed the terminal ephemeral key")
	ErrTokenMismatch      = errors.New("access: chip authentication token does not verify")
)

// pace runs PACE with ECDH generic mapping (ICAO 9303 part 11, 4.4) and
// returns the session it establishes.
func (n *Negotiator) pace(ctx context.Context, ch apdu.Channel, info PACEInfo, mrzInfo string) (*securemsg.Session, error) {
	if info.Mapping() != MappingECDHGeneric {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, info.Protocol)
	}
	p := n.provider
	c, err := info.Cipher()
	if err != nil {
		return nil, err
	}
	group, err := p.Group(info.ParameterID)
	if err != nil {
		return nil, err
	}
	oid, err := EncodeOID(info.Protocol)
	if err != nil {
		return nil, err
	}

	mse := tlv.EncodeAll(
		tlv.Object{Tag: tagProtocolRef, Value: oid},
		tlv.Object{Tag: tagPasswordRef, Value: []byte{passwordMRZ}},
		tlv.Object{Tag: tagParameterRef, Value: []byte{byte(info.ParameterID)}},
	)
	resp, err := ch.Transmit(ctx, apdu.SetAuthenticationTemplate(mse))
	if err != nil {
		return nil, fmt.Errorf("set authentication template: %w", err)
	}
	if err := resp.Check(); err != nil {
		return nil, fmt.Errorf("set authentication template: %w", err)
	}

	// Encrypted nonce.
	z, err := generalAuthenticate(ctx, ch, nil, tagEncryptedNonce, false)
	if err != nil {
		return nil, err
	}
	seed, err := smcrypto.PasswordSeed(p, mrzInfo)
	if err != nil {
		return nil, err
	}
	kPi, err := smcrypto.DeriveKey(p, c, seed, smcrypto.CounterPassword)
	if err != nil {
		return nil, err
	}
	piBlock, err := p.NewBlock(c, kPi)
	if err != nil {
		return nil, err
	}
	nonce, err := smcrypto.DecryptCBC(piBlock, smcrypto.ZeroIV(c), z)
	if err != nil {
		return nil, fmt.Errorf("decrypt nonce: %w", err)
	}

	// Generic mapping.
	skMap, err := smcrypto.RandomScalar(p, group)
	if err != nil {
		return nil, err
	}
	pkMap, err := group.ScalarBaseMult(skMap)
	if err != nil {
		return nil, err
	}
	raw, err := generalAuthenticate(ctx, ch, tlv.Encode(tagMappingIFD, pkMap), tagMappingIC, false)
	if err != nil {
		return nil, err
	}
	chipMap, err := smcrypto.DecodePoint(group, raw)
	if err != nil {
		return nil, fmt.Errorf("chip mapping key: %w", err)
	}
	h, err := group.ScalarMult(chipMap, skMap)
	if err != nil {
		return nil, fmt.Errorf("mapping agreement: %w", err)
	}
	g, err := smcrypto.MapGenerator(group, nonce, h)
	if err != nil {
		return nil, err
	}

	// Key agreement on the mapped generator.
	skEph, err := smcrypto.RandomScalar(p, group)
	if err != nil {
		return nil, err
	}
	pkEph, err := group.ScalarMult(g, skEph)
	if err != nil {
		return nil, err
	}
	chipEphRaw, err := generalAuthenticate(ctx, ch, tlv.Encode(tagEphemeralIFD, pkEph), tagEphemeralIC, false)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(chipEphRaw, pkEph) == 1 {
		return nil, ErrEphemeralKeyReused
	}
	chipEph, err := smcrypto.DecodePoint(group, chipEphRaw)
	if err != nil {
		return nil, fmt.Errorf("chip ephemeral key: %w", err)
	}
	secret, err := smcrypto.SharedSecret(group, chipEph, skEph)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	ksEnc, err := smcrypto.DeriveKey(p, c, secret, smcrypto.CounterEnc)
	if err != nil {
		return nil, err
	}
	ksMac, err := smcrypto.DeriveKey(p, c, secret, smcrypto.CounterMAC)
	if err != nil {
		return nil, err
	}

	// Mutual authentication.
	tIFD, err := smcrypto.AuthToken(p, c, ksMac, AuthTokenInput(oid, chipEphRaw))
	if err != nil {
		return nil, err
	}
	tIC, err := generalAuthenticate(ctx, ch, tlv.Encode(tagTokenIFD, tIFD), tagTokenIC, true)
	if err != nil {
		return nil, err
	}
	want, err := smcrypto.AuthToken(p, c, ksMac, AuthTokenInput(oid, pkEph))
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(tIC, want) != 1 {
		return nil, ErrTokenMismatch
	}

	return securemsg.NewSession(p, c, ksEnc, ksMac, make([]byte, c.BlockSize()))
}

// AuthTokenInput is the public key data object an authentication token is
// computed over: the protocol OID and the other party's ephemeral point.
func AuthTokenInput(oid, point []byte) []byte {
	return tlv.Encode(tagPublicKey, tlv.EncodeAll(
		tlv.Object{Tag: tagOID, Value: oid},
		tlv.Object{Tag: tagECPoint, Value: point},
	))
}

// generalAuthenticate sends one dynamic authentication data step and returns
// the value of the expected response object.
func generalAuthenticate(ctx context.Context, ch apdu.Channel, obj []byte, want uint32, last bool) ([]byte, error) {
	resp, err := ch.Transmit(ctx, apdu.GeneralAuthenticate(tlv.Encode(tagDynamicAuthData, obj), last))
	if err != nil {
		return nil, fmt.Errorf("general authenticate: %w", err)
	}
	if err := resp.Check(); err != nil {
		return nil, fmt.Errorf("general authenticate: %w", err)
	}
	outer, _, err := tlv.Decode(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("general authenticate: %w", err)
	}
	if outer.Tag != tagDynamicAuthData {
		return nil, fmt.Errorf("%w: dynamic authentication data", ErrMissingObject)
	}
	o, ok, err := tlv.FindIn(outer.Value, want)
	if err != nil {
		return nil, fmt.Errorf("general authenticate: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %X", ErrMissingObject, want)
	}
	return o.Value, nil
}
