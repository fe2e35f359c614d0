package apdu

// Instruction bytes.
const (
	INSSelect               byte = 0xA4
	INSReadBinary           byte = 0xB0
	INSReadBinaryOdd        byte = 0xB1
	INSGetChallenge         byte = 0x84
	INSExternalAuthenticate byte = 0x82
	INSManageSecurityEnv    byte = 0x22
	INSGeneralAuthenticate  byte = 0x86
)

// CLA bits.
const (
	CLAChaining        byte = 0x10
	CLASecureMessaging byte = 0x0C
)

// MRTDApplicationID is the AID of the eMRTD LDS1 application.
var MRTDApplicationID = []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}

// MaxReadOffset is the highest offset encodable in P1-P2 of READ BINARY.
const MaxReadOffset = 0x7FFF

// SelectApplication selects the eMRTD application by AID without FCI.
func SelectApplication() Command {
	return Command{INS: INSSelect, P1: 0x04, P2: 0x0C, Data: MRTDApplicationID}
}

// SelectFile selects an elementary file under the current DF by identifier.
func SelectFile(fid []byte) Command {
	return Command{INS: INSSelect, P1: 0x02, P2: 0x0C, Data: fid}
}

// ReadBinary reads ne bytes from the selected file at offset.
func ReadBinary(offset, ne int) Command {
	return Command{INS: INSReadBinary, P1: byte(offset>>8) & 0x7F, P2: byte(offset), Ne: ne}
}

// ReadBinaryOdd reads ne bytes at an offset beyond MaxReadOffset. The offset
// travels in data object 54 and the chip wraps its answer in data object 53.
func ReadBinaryOdd(offset, ne int) Command {
	off := []byte{byte(offset >> 16), byte(offset >> 8), byte(offset)}
	for len(off) > 1 && off[0] == 0 {
		off = off[1:]
	}
	data := append([]byte{0x54, byte(len(off))}, off...)
	// Room for the 53 tag and a length of up to three bytes.
	return Command{INS: INSReadBinaryOdd, Data: data, Ne: ne + 4}
}

// GetChallenge requests an 8-byte challenge.
func GetChallenge() Command {
	return Command{INS: INSGetChallenge, Ne: 8}
}

// ExternalAuthenticate sends the terminal cryptogram and expects the chip's.
func ExternalAuthenticate(data []byte, ne int) Command {
	return Command{INS: INSExternalAuthenticate, Data: data, Ne: ne}
}

// SetAuthenticationTemplate is MSE:Set AT for mutual authentication.
func SetAuthenticationTemplate(data []byte) Command {
	return Command{INS: INSManageSecurityEnv, P1: 0xC1, P2: 0xA4, Data: data}
}

// GeneralAuthenticate sends one step of a GENERAL AUTHENTICATE exchange.
// All steps but the last are chained.
func GeneralAuthenticate(data []byte, last bool) Command {
	cla := CLAChaining
	if last {
		cla = 0x00
	}
	return Command{CLA: cla, INS: INSGeneralAuthenticate, Data: data, Ne: 256}
}
