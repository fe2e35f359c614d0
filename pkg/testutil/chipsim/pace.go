package chipsim

import (
	"bytes"

	"mrtdreader/internal/mrtd/access"
	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/mrz"
	"mrtdreader/internal/mrtd/securemsg"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/internal/mrtd/tlv"
)

// paceRun is the chip state of one PACE execution.
type paceRun struct {
	step  int
	group smcrypto.Group
	oid   []byte
	nonce []byte
	g     smcrypto.Point
	pkEph []byte
	pkIFD []byte
	ksEnc []byte
	ksMac []byte
}

func (c *Chip) setAuthenticationTemplate(cmd apdu.Command) apdu.Response {
	c.paceRun = nil
	if c.pace == nil {
		return apdu.Response{SW: apdu.SWReferenceDataNotFound}
	}
	objs, err := tlv.DecodeAll(cmd.Data)
	if err != nil {
		return apdu.Response{SW: apdu.SWWrongData}
	}
	oid, err := access.EncodeOID(c.pace.info.Protocol)
	if err != nil {
		return apdu.Response{SW: apdu.SWWrongData}
	}
	proto, ok := tlv.Find(objs, 0x80)
	if !ok || !bytes.Equal(proto.Value, oid) {
		return apdu.Response{SW: apdu.SWReferenceDataNotFound}
	}
	param, ok := tlv.Find(objs, 0x84)
	if !ok || len(param.Value) != 1 || int(param.Value[0]) != c.pace.info.ParameterID {
		return apdu.Response{SW: apdu.SWReferenceDataNotFound}
	}
	group, err := c.provider.Group(c.pace.info.ParameterID)
	if err != nil {
		return apdu.Response{SW: apdu.SWReferenceDataNotFound}
	}
	c.paceRun = &paceRun{step: 1, group: group, oid: oid}
	return apdu.Response{SW: apdu.SWSuccess}
}

func (c *Chip) generalAuthenticate(cmd apdu.Command) apdu.Response {
	run := c.paceRun
	if run == nil {
		return apdu.Response{SW: apdu.SWConditionsNotSatisfied}
	}
	outer, _, err := tlv.Decode(cmd.Data)
	if err != nil || outer.Tag != 0x7C {
		c.paceRun = nil
		return apdu.Response{SW: apdu.SWWrongData}
	}

	resp, ok := c.paceStep(run, outer.Value)
	if !ok {
		c.paceRun = nil
		return apdu.Response{SW: apdu.SWAuthenticationFailed}
	}
	run.step++
	return apdu.Response{Data: tlv.Encode(0x7C, resp), SW: apdu.SWSuccess}
}

func (c *Chip) paceStep(run *paceRun, in []byte) ([]byte, bool) {
	p := c.provider
	cipher := c.pace.cipher
	group := run.group

	switch run.step {
	case 1:
		run.nonce, _ = p.Random(cipher.BlockSize())
		seed, err := smcrypto.PasswordSeed(p, mrz.KeyInfo(c.key))
		if err != nil {
			return nil, false
		}
		kPi, err := smcrypto.DeriveKey(p, cipher, seed, smcrypto.CounterPassword)
		if err != nil {
			return nil, false
		}
		block, err := p.NewBlock(cipher, kPi)
		if err != nil {
			return nil, false
		}
		z, err := smcrypto.EncryptCBC(block, smcrypto.ZeroIV(cipher), run.nonce)
		if err != nil {
			return nil, false
		}
		return tlv.Encode(0x80, z), true

	case 2:
		o, ok, _ := tlv.FindIn(in, 0x81)
		if !ok {
			return nil, false
		}
		pkMapIFD, err := smcrypto.DecodePoint(group, o.Value)
		if err != nil {
			return nil, false
		}
		sk, err := smcrypto.RandomScalar(p, group)
		if err != nil {
			return nil, false
		}
		pk, err := group.ScalarBaseMult(sk)
		if err != nil {
			return nil, false
		}
		h, err := group.ScalarMult(pkMapIFD, sk)
		if err != nil {
			return nil, false
		}
		if run.g, err = smcrypto.MapGenerator(group, run.nonce, h); err != nil {
			return nil, false
		}
		return tlv.Encode(0x82, pk), true

	case 3:
		o, ok, _ := tlv.FindIn(in, 0x83)
		if !ok {
			return nil, false
		}
		pkIFD, err := smcrypto.DecodePoint(group, o.Value)
		if err != nil {
			return nil, false
		}
		sk, err := smcrypto.RandomScalar(p, group)
		if err != nil {
			return nil, false
		}
		run.pkIFD = o.Value
		if run.pkEph, err = group.ScalarMult(run.g, sk); err != nil {
			return nil, false
		}
		secret, err := smcrypto.SharedSecret(group, pkIFD, sk)
		if err != nil {
			return nil, false
		}
		run.ksEnc, _ = smcrypto.DeriveKey(p, cipher, secret, smcrypto.CounterEnc)
		run.ksMac, _ = smcrypto.DeriveKey(p, cipher, secret, smcrypto.CounterMAC)
		return tlv.Encode(0x84, run.pkEph), true

	case 4:
		o, ok, _ := tlv.FindIn(in, 0x85)
		if !ok || c.pace.reject {
			return nil, false
		}
		want, err := smcrypto.AuthToken(p, cipher, run.ksMac, access.AuthTokenInput(run.oid, run.pkEph))
		if err != nil || !bytes.Equal(want, o.Value) {
			return nil, false
		}
		token, err := smcrypto.AuthToken(p, cipher, run.ksMac, access.AuthTokenInput(run.oid, run.pkIFD))
		if err != nil {
			return nil, false
		}
		session, err := securemsg.NewSession(p, cipher, run.ksEnc, run.ksMac, make([]byte, cipher.BlockSize()))
		if err != nil {
			return nil, false
		}
		c.session = session
		c.established = models.AccessPACE
		c.paceRun = nil
		return tlv.Encode(0x86, token), true

	default:
		return nil, false
	}
}
