package access

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/securemsg"
	"mrtdreader/internal/mrtd/smcrypto"
)

const (
	challengeLen   = 8
	keyMaterialLen = 16
	cryptogramLen  = 2*challengeLen + keyMaterialLen
)

var (
	ErrBadChallenge      = errors.New("access: chip challenge has wrong length")
	ErrBadCryptogram     = errors.New("access: chip cryptogram has wrong length")
	ErrChallengeMismatch = errors.New("access: chip did not return the terminal challenge")
)

// bac runs Basic Access Control (ICAO 9303 part 11, 4.3) and returns the
// resulting 3DES session.
func (n *Negotiator) bac(ctx context.Context, ch apdu.Channel, mrzInfo string) (*securemsg.Session, error) {
	p := n.provider
	seed, err := smcrypto.BACSeed(p, mrzInfo)
	if err != nil {
		return nil, err
	}
	kEnc, err := smcrypto.DeriveKey(p, smcrypto.Cipher3DES, seed, smcrypto.CounterEnc)
	if err != nil {
		return nil, err
	}
	kMac, err := smcrypto.DeriveKey(p, smcrypto.Cipher3DES, seed, smcrypto.CounterMAC)
	if err != nil {
		return nil, err
	}

	resp, err := ch.Transmit(ctx, apdu.GetChallenge())
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	if err := resp.Check(); err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	rndIC := resp.Data
	if len(rndIC) != challengeLen {
		return nil, ErrBadChallenge
	}

	rndIFD, err := p.Random(challengeLen)
	if err != nil {
		return nil, err
	}
	kIFD, err := p.Random(keyMaterialLen)
	if err != nil {
		return nil, err
	}

	block, err := p.NewBlock(smcrypto.Cipher3DES, kEnc)
	if err != nil {
		return nil, err
	}
	iv := smcrypto.ZeroIV(smcrypto.Cipher3DES)
	eIFD, err := smcrypto.EncryptCBC(block, iv, concat(rndIFD, rndIC, kIFD))
	if err != nil {
		return nil, err
	}
	mIFD, err := smcrypto.MAC(p, smcrypto.Cipher3DES, kMac, eIFD)
	if err != nil {
		return nil, err
	}

	resp, err = ch.Transmit(ctx, apdu.ExternalAuthenticate(concat(eIFD, mIFD), cryptogramLen+smcrypto.MACLen))
	if err != nil {
		return nil, fmt.Errorf("external authenticate: %w", err)
	}
	if err := resp.Check(); err != nil {
		return nil, fmt.Errorf("external authenticate: %w", err)
	}
	if len(resp.Data) != cryptogramLen+smcrypto.MACLen {
		return nil, ErrBadCryptogram
	}
	eIC, mIC := resp.Data[:cryptogramLen], resp.Data[cryptogramLen:]
	if err := smcrypto.VerifyMAC(p, smcrypto.Cipher3DES, kMac, eIC, mIC); err != nil {
		return nil, err
	}
	r, err := smcrypto.DecryptCBC(block, iv, eIC)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(r[:challengeLen], rndIC) || !bytes.Equal(r[challengeLen:2*challengeLen], rndIFD) {
		return nil, ErrChallengeMismatch
	}
	kIC := r[2*challengeLen:]

	sessionSeed := smcrypto.XOR(kIFD, kIC)
	ksEnc, err := smcrypto.DeriveKey(p, smcrypto.Cipher3DES, sessionSeed, smcrypto.CounterEnc)
	if err != nil {
		return nil, err
	}
	ksMac, err := smcrypto.DeriveKey(p, smcrypto.Cipher3DES, sessionSeed, smcrypto.CounterMAC)
	if err != nil {
		return nil, err
	}
	ssc := concat(rndIC[4:], rndIFD[4:])
	return securemsg.NewSession(p, smcrypto.Cipher3DES, ksEnc, ksMac, ssc)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
