// Package apdu encodes ISO 7816-4 command and response APDUs and defines the
// byte-exchange capabilities the protocol layers are built on.
package apdu

import (
	"errors"
	"fmt"
)

const (
	maxShortData     = 255
	maxShortNe       = 256
	maxExtendedData  = 65535
	maxExtendedNe    = 65536
	commandHeaderLen = 4
)

var (
	ErrDataTooLong      = errors.New("apdu: command data too long")
	ErrInvalidNe        = errors.New("apdu: invalid expected length")
	ErrMalformedCommand = errors.New("apdu: malformed command")
	ErrShortResponse    = errors.New("apdu: response shorter than status word")
)

// Status words used by the protocol layers.
const (
	SWSuccess                    uint16 = 0x9000
	SWEndOfFile                  uint16 = 0x6282
	SWAuthenticationFailed       uint16 = 0x6300
	SWWrongLength                uint16 = 0x6700
	SWSecurityStatusNotSatisfied uint16 = 0x6982
	SWConditionsNotSatisfied     uint16 = 0x6985
	SWSMDataObjectsIncorrect     uint16 = 0x6988
	SWWrongData                  uint16 = 0x6A80
	SWFileNotFound               uint16 = 0x6A82
	SWReferenceDataNotFound      uint16 = 0x6A88
	SWWrongP1P2                  uint16 = 0x6B00
	SWINSNotSupported            uint16 = 0x6D00
	SWCLANotSupported            uint16 = 0x6E00
)

// Command is a command APDU. Ne is the expected response length: 0 means no
// Le field, 256 encodes as a short Le of 00.
type Command struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte
	Ne   int
}

// IsExtended reports whether the command needs extended length fields.
func (c Command) IsExtended() bool {
	return len(c.Data) > maxShortData || c.Ne > maxShortNe
}

// Bytes encodes the command, choosing short or extended length form.
func (c Command) Bytes() ([]byte, error) {
	if len(c.Data) > maxExtendedData {
		return nil, ErrDataTooLong
	}
	if c.Ne < 0 || c.Ne > maxExtendedNe {
		return nil, ErrInvalidNe
	}
	extended := c.IsExtended()
	out := make([]byte, 0, commandHeaderLen+3+len(c.Data)+3)
	out = append(out, c.CLA, c.INS, c.P1, c.P2)
	if n := len(c.Data); n > 0 {
		if extended {
			out = append(out, 0x00, byte(n>>8), byte(n))
		} else {
			out = append(out, byte(n))
		}
		out = append(out, c.Data...)
	}
	if c.Ne > 0 {
		if extended {
			if len(c.Data) == 0 {
				out = append(out, 0x00)
			}
			out = append(out, byte(c.Ne>>8), byte(c.Ne))
		} else {
			out = append(out, byte(c.Ne))
		}
	}
	return out, nil
}

// ParseCommand decodes an encoded command APDU (ISO 7816-4 cases 1 to 4,
// short and extended).
func ParseCommand(b []byte) (Command, error) {
	if len(b) < commandHeaderLen {
		return Command{}, ErrMalformedCommand
	}
	c := Command{CLA: b[0], INS: b[1], P1: b[2], P2: b[3]}
	body := b[commandHeaderLen:]
	switch {
	case len(body) == 0:
		return c, nil
	case len(body) == 1:
		c.Ne = shortNe(body[0])
		return c, nil
	case body[0] != 0x00:
		n := int(body[0])
		switch len(body) {
		case 1 + n:
		case 2 + n:
			c.Ne = shortNe(body[1+n])
		default:
			return Command{}, ErrMalformedCommand
		}
		c.Data = append([]byte(nil), body[1:1+n]...)
		return c, nil
	case len(body) == 3:
		c.Ne = extendedNe(body[1], body[2])
		return c, nil
	default:
		if len(body) < 3 {
			return Command{}, ErrMalformedCommand
		}
		n := int(body[1])<<8 | int(body[2])
		rest := body[3:]
		switch len(rest) {
		case n:
		case n + 2:
			c.Ne = extendedNe(rest[n], rest[n+1])
		default:
			return Command{}, ErrMalformedCommand
		}
		c.Data = append([]byte(nil), rest[:n]...)
		return c, nil
	}
}

func shortNe(b byte) int {
	if b == 0 {
		return maxShortNe
	}
	return int(b)
}

func extendedNe(hi, lo byte) int {
	n := int(hi)<<8 | int(lo)
	if n == 0 {
		return maxExtendedNe
	}
	return n
}

// Response is a response APDU split into data and status word.
type Response struct {
	Data []byte
	SW   uint16
}

// ParseResponse splits raw response bytes into data and status word.
func ParseResponse(b []byte) (Response, error) {
	if len(b) < 2 {
		return Response{}, ErrShortResponse
	}
	n := len(b) - 2
	return Response{
		Data: append([]byte(nil), b[:n]...),
		SW:   uint16(b[n])<<8 | uint16(b[n+1]),
	}, nil
}

// Bytes encodes the response as data followed by the status word.
func (r Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, byte(r.SW>>8), byte(r.SW))
}

// OK reports a 9000 status word.
func (r Response) OK() bool {
	return r.SW == SWSuccess
}

// Check returns a *StatusError for any status word other than 9000.
func (r Response) Check() error {
	if r.OK() {
		return nil
	}
	return &StatusError{SW: r.SW}
}

// StatusError reports a status word the chip returned instead of 9000.
type StatusError struct {
	SW uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apdu: chip returned status %04X", e.SW)
}

// IsStatus reports whether err carries the given status word.
func IsStatus(err error, sw uint16) bool {
	var se *StatusError
	return errors.As(err, &se) && se.SW == sw
}

// IsRejection reports whether err is a status word rejection rather than a
// transport or protocol failure.
func IsRejection(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
