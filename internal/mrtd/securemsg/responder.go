package securemsg

import (
	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/internal/mrtd/tlv"
)

// UnprotectCommand is the chip side of Protect: it verifies the checksum of a
// protected command and returns the plain command.
func (s *Session) UnprotectCommand(cmd apdu.Command) (apdu.Command, error) {
	s.incrementSSC()
	objs, err := splitObjects(cmd.Data)
	if err != nil {
		return apdu.Command{}, err
	}
	do87, has87 := objs[tagEncryptedData]
	do97, has97 := objs[tagExpectedLen]
	do8e, has8e := objs[tagChecksum]
	if !has8e {
		return apdu.Command{}, ErrMissingChecksum
	}

	bs := s.cipher.BlockSize()
	m := concat(smcrypto.Pad([]byte{cmd.CLA, cmd.INS, cmd.P1, cmd.P2}, bs), do87.raw, do97.raw)
	if err := smcrypto.VerifyMAC(s.provider, s.cipher, s.macKey, concat(s.ssc, m), do8e.value); err != nil {
		return apdu.Command{}, err
	}

	plain := apdu.Command{CLA: cmd.CLA &^ apdu.CLASecureMessaging, INS: cmd.INS, P1: cmd.P1, P2: cmd.P2}
	if has87 {
		if len(do87.value) < 1 || do87.value[0] != 0x01 {
			return apdu.Command{}, ErrMalformedObjects
		}
		dec, err := s.decrypt(do87.value[1:])
		if err != nil {
			return apdu.Command{}, err
		}
		if plain.Data, err = smcrypto.Unpad(dec); err != nil {
			return apdu.Command{}, err
		}
	}
	if has97 {
		plain.Ne = decodeLe(do97.value)
	}
	return plain, nil
}

// ProtectResponse is the chip side of Unprotect.
func (s *Session) ProtectResponse(resp apdu.Response) (apdu.Response, error) {
	s.incrementSSC()
	var do87 []byte
	if len(resp.Data) > 0 {
		enc, err := s.encrypt(smcrypto.Pad(resp.Data, s.cipher.BlockSize()))
		if err != nil {
			return apdu.Response{}, err
		}
		do87 = tlv.Encode(tagEncryptedData, append([]byte{0x01}, enc...))
	}
	do99 := tlv.Encode(tagStatusWord, []byte{byte(resp.SW >> 8), byte(resp.SW)})
	cc, err := smcrypto.MAC(s.provider, s.cipher, s.macKey, concat(s.ssc, do87, do99))
	if err != nil {
		return apdu.Response{}, err
	}
	return apdu.Response{
		Data: concat(do87, do99, tlv.Encode(tagChecksum, cc)),
		SW:   resp.SW,
	}, nil
}

func decodeLe(b []byte) int {
	switch len(b) {
	case 1:
		if b[0] == 0 {
			return 256
		}
		return int(b[0])
	case 2:
		n := int(b[0])<<8 | int(b[1])
		if n == 0 {
			return 65536
		}
		return n
	default:
		return 0
	}
}
