package access_test

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"mrtdreader/internal/mrtd/access"
	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/apdu/mocks"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/pkg/testutil"
	"mrtdreader/pkg/testutil/chipsim"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider returns queued values from Random.
type scriptedProvider struct {
	smcrypto.StdProvider
	random [][]byte
}

func (p *scriptedProvider) Random(n int) ([]byte, error) {
	if len(p.random) == 0 || len(p.random[0]) != n {
		return nil, errors.New("unexpected random request")
	}
	out := p.random[0]
	p.random = p.random[1:]
	return out, nil
}

// The BAC exchange of ICAO Doc 9303 part 11, appendix D, after a chip that
// has no EF.CardAccess and rejects the plain probe.
func TestNegotiate_BACWorkedExample(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	expect := func(cmd, resp string) *gomock.Call {
		return transport.EXPECT().Exchange(gomock.Any(), unhex(t, cmd)).Return(unhex(t, resp), nil)
	}
	gomock.InOrder(
		expect("00A4020C02011C", "6A82"),
		expect("00A4040C07A0000002471001", "9000"),
		expect("00A4020C02011E", "9000"),
		expect("00B0000001", "6982"),
		expect("0084000008", "4608F919887022129000"),
		expect("0082000028"+
			"72C29C2371CC9BDB65B779B8E8D37B29ECC154AA56A8799FAE2F498F76ED92F2"+
			"5F1448EEA8AD90A7"+"28",
			"46B9342A41396CD7386BF5803104D7CEDC122B9132139BAF2EEDC94EE178534F"+
				"2F2D235D074D7449"+"9000"),
		expect("0CA4020C158709016375432908C044F68E08BF8B92D635FF24F800", "990290008E08FA855A5D4C50A8ED9000"),
	)

	provider := &scriptedProvider{random: [][]byte{
		unhex(t, "781723860C06C226"),
		unhex(t, "0B795240CB7049B01C19B33E32804F0B"),
	}}
	n := access.New(provider, access.WithLogger(discardLogger()))

	res, err := n.Negotiate(context.Background(), transport, testutil.SpecimenKeySpec())
	require.NoError(t, err)
	assert.Equal(t, models.AccessBAC, res.Method)
	assert.Equal(t, access.OutcomeNotAttempted, res.PACE.Outcome)
	assert.Equal(t, access.OutcomeSucceeded, res.BAC.Outcome)

	resp, err := res.Channel.Transmit(context.Background(), apdu.SelectFile(models.FileCOM.Bytes()))
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestNegotiate_TransportFailureOnSelect(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	linkErr := errors.New("tag lost")
	gomock.InOrder(
		transport.EXPECT().Exchange(gomock.Any(), gomock.Any()).Return(unhex(t, "6A82"), nil),
		transport.EXPECT().Exchange(gomock.Any(), gomock.Any()).Return(nil, linkErr),
	)

	n := access.New(smcrypto.NewStdProvider(), access.WithLogger(discardLogger()))
	_, err := n.Negotiate(context.Background(), transport, testutil.SpecimenKeySpec())
	assert.ErrorIs(t, err, linkErr)
}

func TestNegotiate_InvalidKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	n := access.New(smcrypto.NewStdProvider(), access.WithLogger(discardLogger()))
	_, err := n.Negotiate(context.Background(), transport, models.KeySpec{DocumentNumber: "L898902C"})
	assert.Error(t, err)
}

// =============================================================================
// Against the chip simulator
// =============================================================================

type NegotiatorSuite struct {
	suite.Suite
	negotiator *access.Negotiator
	ctx        context.Context
}

func TestNegotiatorSuite(t *testing.T) {
	suite.Run(t, new(NegotiatorSuite))
}

func (s *NegotiatorSuite) SetupTest() {
	s.negotiator = access.New(smcrypto.NewStdProvider(), access.WithLogger(discardLogger()))
	s.ctx = context.Background()
}

// readCOM checks the negotiated channel works by reading the first EF.COM bytes.
func (s *NegotiatorSuite) readCOM(ch apdu.Channel) {
	resp, err := ch.Transmit(s.ctx, apdu.SelectFile(models.FileCOM.Bytes()))
	s.Require().NoError(err)
	s.Require().True(resp.OK())
	resp, err = ch.Transmit(s.ctx, apdu.ReadBinary(0, 4))
	s.Require().NoError(err)
	s.Equal(testutil.COMFile()[:4], resp.Data)
}

func (s *NegotiatorSuite) TestPACE() {
	cases := []struct {
		name   string
		param  int
		cipher smcrypto.Cipher
	}{
		{"P-256 AES-128", smcrypto.ParamNISTP256, smcrypto.CipherAES128},
		{"P-224 3DES", smcrypto.ParamNISTP224, smcrypto.Cipher3DES},
		{"P-384 AES-256", smcrypto.ParamNISTP384, smcrypto.CipherAES256},
		{"P-521 AES-192", smcrypto.ParamNISTP521, smcrypto.CipherAES192},
		{"brainpoolP256r1 AES-128", smcrypto.ParamBrainpoolP256r1, smcrypto.CipherAES128},
		{"brainpoolP384r1 3DES", smcrypto.ParamBrainpoolP384r1, smcrypto.Cipher3DES},
		{"brainpoolP512r1 AES-256", smcrypto.ParamBrainpoolP512r1, smcrypto.CipherAES256},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			chip := chipsim.New(chipsim.WithPACE(tc.param, tc.cipher))

			res, err := s.negotiator.Negotiate(s.ctx, chip, testutil.SpecimenKeySpec())
			s.Require().NoError(err)
			s.Equal(models.AccessPACE, res.Method)
			s.Equal(access.OutcomeSucceeded, res.PACE.Outcome)
			s.Equal(access.OutcomeNotAttempted, res.BAC.Outcome)
			s.Equal(models.AccessPACE, chip.AccessControl())
			s.readCOM(res.Channel)
		})
	}
}

func (s *NegotiatorSuite) TestPACEFailureFallsBackToBAC() {
	chip := chipsim.New(chipsim.WithPACE(smcrypto.ParamNISTP256, smcrypto.CipherAES128), chipsim.WithPACERejected())

	res, err := s.negotiator.Negotiate(s.ctx, chip, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	s.Equal(models.AccessBAC, res.Method)
	s.Equal(access.OutcomeFailed, res.PACE.Outcome)
	s.Error(res.PACE.Err)
	s.Equal(access.OutcomeSucceeded, res.BAC.Outcome)
	s.readCOM(res.Channel)
}

func (s *NegotiatorSuite) TestUnsupportedDomainParametersFallBackToBAC() {
	// Brainpool P320r1 is not offered by the standard provider.
	chip := chipsim.New(chipsim.WithPACE(14, smcrypto.CipherAES128))

	res, err := s.negotiator.Negotiate(s.ctx, chip, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	s.Equal(access.OutcomeFailed, res.PACE.Outcome)
	s.ErrorIs(res.PACE.Err, smcrypto.ErrUnsupportedDomainParameters)
	s.Equal(models.AccessBAC, res.Method)
}

func (s *NegotiatorSuite) TestNoCardAccessUsesBAC() {
	chip := chipsim.New()

	res, err := s.negotiator.Negotiate(s.ctx, chip, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	s.Equal(access.OutcomeNotAttempted, res.PACE.Outcome)
	s.Equal(models.AccessBAC, res.Method)
	s.Equal(models.AccessBAC, chip.AccessControl())
	s.readCOM(res.Channel)
}

func (s *NegotiatorSuite) TestUnprotectedChip() {
	chip := chipsim.New(chipsim.WithoutAccessControl())

	res, err := s.negotiator.Negotiate(s.ctx, chip, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	s.Equal(models.AccessNone, res.Method)
	s.Equal(access.OutcomeNotAttempted, res.BAC.Outcome)
	s.readCOM(res.Channel)
}

func (s *NegotiatorSuite) TestWrongKeyFailsNegotiation() {
	other := testutil.SpecimenKeySpec()
	other.DocumentNumber = "X1234567"
	chip := chipsim.New(chipsim.WithPACE(smcrypto.ParamNISTP256, smcrypto.CipherAES128))

	_, err := s.negotiator.Negotiate(s.ctx, chip, other)
	s.Require().Error(err)
	s.True(apdu.IsStatus(err, apdu.SWAuthenticationFailed))
}

func (s *NegotiatorSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.negotiator.Negotiate(ctx, chipsim.New(), testutil.SpecimenKeySpec())
	s.ErrorIs(err, context.Canceled)
}
