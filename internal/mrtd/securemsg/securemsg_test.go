package securemsg

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/smcrypto"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// Session from the worked example in ICAO Doc 9303 part 11, appendix D.
func icaoSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(smcrypto.NewStdProvider(), smcrypto.Cipher3DES,
		unhex(t, "979EC13B1CBFE9DCD01AB0FED307EAE5"),
		unhex(t, "F1CB1F1FB5ADF208806B89DC579DC1F8"),
		unhex(t, "887022120C06C226"))
	require.NoError(t, err)
	return s
}

func TestProtect_ICAOSelect(t *testing.T) {
	s := icaoSession(t)

	protected, err := s.Protect(apdu.SelectFile([]byte{0x01, 0x1E}))
	require.NoError(t, err)
	raw, err := protected.Bytes()
	require.NoError(t, err)
	assert.Equal(t, unhex(t, "0CA4020C158709016375432908C044F68E08BF8B92D635FF24F800"), raw)

	resp, err := apdu.ParseResponse(unhex(t, "990290008E08FA855A5D4C50A8ED9000"))
	require.NoError(t, err)
	plain, err := s.Unprotect(resp)
	require.NoError(t, err)
	assert.True(t, plain.OK())
	assert.Empty(t, plain.Data)
	assert.Equal(t, unhex(t, "887022120C06C228"), s.SSC())
}

func TestProtect_ICAOReadBinary(t *testing.T) {
	s := icaoSession(t)
	_, err := s.Protect(apdu.SelectFile([]byte{0x01, 0x1E}))
	require.NoError(t, err)
	_, err = s.Unprotect(apdu.Response{Data: unhex(t, "990290008E08FA855A5D4C50A8ED"), SW: apdu.SWSuccess})
	require.NoError(t, err)

	protected, err := s.Protect(apdu.ReadBinary(0, 4))
	require.NoError(t, err)
	raw, err := protected.Bytes()
	require.NoError(t, err)
	assert.Equal(t, unhex(t, "0CB000000D9701048E08ED6705417E96BA5500"), raw)

	resp, err := apdu.ParseResponse(unhex(t, "8709019FF0EC34F9922651990290008E08AD55CC17140B2DED9000"))
	require.NoError(t, err)
	plain, err := s.Unprotect(resp)
	require.NoError(t, err)
	assert.Equal(t, unhex(t, "60145F01"), plain.Data)
}

func TestUnprotect_RejectsTamperedChecksum(t *testing.T) {
	s := icaoSession(t)
	_, err := s.Protect(apdu.SelectFile([]byte{0x01, 0x1E}))
	require.NoError(t, err)

	_, err = s.Unprotect(apdu.Response{Data: unhex(t, "990290008E08FA855A5D4C50A8EE"), SW: apdu.SWSuccess})
	assert.ErrorIs(t, err, smcrypto.ErrMACMismatch)
}

func TestUnprotect_MissingChecksum(t *testing.T) {
	s := icaoSession(t)
	_, err := s.Unprotect(apdu.Response{Data: unhex(t, "99029000"), SW: apdu.SWSuccess})
	assert.ErrorIs(t, err, ErrMissingChecksum)
}

func TestUnprotect_PlainStatusPassesThrough(t *testing.T) {
	s := icaoSession(t)
	resp, err := s.Unprotect(apdu.Response{SW: apdu.SWSMDataObjectsIncorrect})
	require.NoError(t, err)
	assert.Equal(t, apdu.SWSMDataObjectsIncorrect, resp.SW)
}

func TestNewSession_InvalidSSC(t *testing.T) {
	_, err := NewSession(smcrypto.NewStdProvider(), smcrypto.CipherAES128, make([]byte, 16), make([]byte, 16), make([]byte, 8))
	assert.ErrorIs(t, err, ErrInvalidSSC)
}

// =============================================================================
// Channel round trips against the chip side of a session
// =============================================================================

type chipTransport struct {
	chip    *Session
	handler func(apdu.Command) apdu.Response
	err     error
}

func (c *chipTransport) Exchange(_ context.Context, raw []byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return nil, err
	}
	plain, err := c.chip.UnprotectCommand(cmd)
	if err != nil {
		return apdu.Response{SW: apdu.SWSMDataObjectsIncorrect}.Bytes(), nil
	}
	resp, err := c.chip.ProtectResponse(c.handler(plain))
	if err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

func (c *chipTransport) Close() error { return nil }

func sessionPair(t *testing.T, c smcrypto.Cipher) (*Session, *Session) {
	t.Helper()
	p := smcrypto.NewStdProvider()
	enc := bytes.Repeat([]byte{0x11}, c.KeyLen())
	mac := bytes.Repeat([]byte{0x22}, c.KeyLen())
	ssc := make([]byte, c.BlockSize())
	terminal, err := NewSession(p, c, enc, mac, ssc)
	require.NoError(t, err)
	chip, err := NewSession(p, c, enc, mac, ssc)
	require.NoError(t, err)
	return terminal, chip
}

func TestChannel_RoundTrip(t *testing.T) {
	for _, c := range []smcrypto.Cipher{smcrypto.Cipher3DES, smcrypto.CipherAES128, smcrypto.CipherAES256} {
		t.Run(c.String(), func(t *testing.T) {
			terminal, chip := sessionPair(t, c)
			content := bytes.Repeat([]byte{0xA5}, 300)
			transport := &chipTransport{chip: chip, handler: func(cmd apdu.Command) apdu.Response {
				if cmd.INS != apdu.INSReadBinary {
					return apdu.Response{SW: apdu.SWSuccess}
				}
				offset := int(cmd.P1)<<8 | int(cmd.P2)
				end := min(offset+cmd.Ne, len(content))
				return apdu.Response{Data: content[offset:end], SW: apdu.SWSuccess}
			}}
			ch := NewChannel(transport, terminal)
			ctx := context.Background()

			resp, err := ch.Transmit(ctx, apdu.SelectFile([]byte{0x01, 0x02}))
			require.NoError(t, err)
			assert.True(t, resp.OK())

			resp, err = ch.Transmit(ctx, apdu.ReadBinary(0, 0xDF))
			require.NoError(t, err)
			assert.Equal(t, content[:0xDF], resp.Data)

			resp, err = ch.Transmit(ctx, apdu.ReadBinary(0xDF, 0xDF))
			require.NoError(t, err)
			assert.Equal(t, content[0xDF:], resp.Data)

			assert.Equal(t, chip.SSC(), terminal.SSC())
		})
	}
}

func TestChannel_StatusWordFromChip(t *testing.T) {
	terminal, chip := sessionPair(t, smcrypto.CipherAES128)
	transport := &chipTransport{chip: chip, handler: func(apdu.Command) apdu.Response {
		return apdu.Response{SW: apdu.SWFileNotFound}
	}}

	resp, err := NewChannel(transport, terminal).Transmit(context.Background(), apdu.SelectFile([]byte{0x01, 0x0F}))
	require.NoError(t, err)
	assert.True(t, apdu.IsStatus(resp.Check(), apdu.SWFileNotFound))
}

func TestChannel_CloseWipesSession(t *testing.T) {
	terminal, chip := sessionPair(t, smcrypto.Cipher3DES)
	ioErr := errors.New("link lost")
	ch := NewChannel(&chipTransport{chip: chip, err: ioErr}, terminal)

	_, err := ch.Transmit(context.Background(), apdu.GetChallenge())
	assert.ErrorIs(t, err, ioErr)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Equal(t, make([]byte, 8), terminal.SSC())

	_, err = ch.Transmit(context.Background(), apdu.GetChallenge())
	assert.ErrorIs(t, err, apdu.ErrChannelClosed)
}
