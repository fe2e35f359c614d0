package access

import (
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	casn1 "golang.org/x/crypto/cryptobyte/asn1"

	"mrtdreader/internal/mrtd/smcrypto"
)

// id-PACE from BSI TR-03110 part 3.
var oidPACE = asn1.ObjectIdentifier{0, 4, 0, 127, 0, 7, 2, 2, 4}

// Key agreement and mapping arcs below id-PACE.
const (
	MappingDHGeneric   = 1
	MappingECDHGeneric = 2
)

// Secure messaging arcs below the mapping.
var cipherArcs = map[int]smcrypto.Cipher{
	1: smcrypto.Cipher3DES,
	2: smcrypto.CipherAES128,
	3: smcrypto.CipherAES192,
	4: smcrypto.CipherAES256,
}

var (
	ErrMalformedCardAccess = errors.New("access: malformed EF.CardAccess")
	ErrUnsupportedProtocol = errors.New("access: unsupported PACE protocol")
)

// PACEInfo is a PACE SecurityInfo announced in EF.CardAccess.
type PACEInfo struct {
	Protocol asn1.ObjectIdentifier
	Version  int
	// ParameterID is the standardized domain parameter id, -1 when absent.
	ParameterID int
}

// PACEProtocol builds the protocol identifier for a mapping and cipher.
func PACEProtocol(mapping int, c smcrypto.Cipher) asn1.ObjectIdentifier {
	oid := append(asn1.ObjectIdentifier{}, oidPACE...)
	for arc, ac := range cipherArcs {
		if ac == c {
			return append(oid, mapping, arc)
		}
	}
	return append(oid, mapping, 0)
}

// Mapping returns the key agreement and mapping arc.
func (i PACEInfo) Mapping() int {
	if len(i.Protocol) != len(oidPACE)+2 {
		return 0
	}
	return i.Protocol[len(oidPACE)]
}

// Cipher returns the secure messaging cipher of the protocol.
func (i PACEInfo) Cipher() (smcrypto.Cipher, error) {
	if len(i.Protocol) != len(oidPACE)+2 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, i.Protocol)
	}
	c, ok := cipherArcs[i.Protocol[len(oidPACE)+1]]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, i.Protocol)
	}
	return c, nil
}

// ParseCardAccess extracts the PACEInfos from the SecurityInfos SET stored
// in EF.CardAccess. Other security infos are skipped.
func ParseCardAccess(b []byte) ([]PACEInfo, error) {
	input := cryptobyte.String(b)
	var set cryptobyte.String
	if !input.ReadASN1(&set, casn1.SET) {
		return nil, ErrMalformedCardAccess
	}

	var infos []PACEInfo
	for !set.Empty() {
		var seq cryptobyte.String
		var oid asn1.ObjectIdentifier
		if !set.ReadASN1(&seq, casn1.SEQUENCE) || !seq.ReadASN1ObjectIdentifier(&oid) {
			return nil, ErrMalformedCardAccess
		}
		if len(oid) != len(oidPACE)+2 || !oid[:len(oidPACE)].Equal(oidPACE) {
			continue
		}
		info := PACEInfo{Protocol: oid, ParameterID: -1}
		if !seq.ReadASN1Integer(&info.Version) {
			continue
		}
		if seq.PeekASN1Tag(casn1.INTEGER) {
			if !seq.ReadASN1Integer(&info.ParameterID) {
				return nil, ErrMalformedCardAccess
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// EncodeCardAccess builds the EF.CardAccess contents for infos.
func EncodeCardAccess(infos ...PACEInfo) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(casn1.SET, func(b *cryptobyte.Builder) {
		for _, info := range infos {
			b.AddASN1(casn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(info.Protocol)
				b.AddASN1Int64(int64(info.Version))
				if info.ParameterID >= 0 {
					b.AddASN1Int64(int64(info.ParameterID))
				}
			})
		}
	})
	return b.Bytes()
}

// EncodeOID returns the DER content octets of oid, without tag and length.
func EncodeOID(oid asn1.ObjectIdentifier) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1ObjectIdentifier(oid)
	der, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	s := cryptobyte.String(der)
	var content cryptobyte.String
	if !s.ReadASN1(&content, casn1.OBJECT_IDENTIFIER) {
		return nil, ErrMalformedCardAccess
	}
	return content, nil
}
