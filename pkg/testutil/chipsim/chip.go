// Package chipsim simulates the chip side of an eMRTD for tests: EF.CardAccess,
// PACE with ECDH generic mapping, Basic Access Control, secure messaging and
// the LDS files of a document, with hooks for scripted failures.
package chipsim

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"mrtdreader/internal/mrtd/access"
	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/mrz"
	"mrtdreader/internal/mrtd/securemsg"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/internal/mrtd/tlv"
	"mrtdreader/pkg/testutil"
)

// ErrClosed is returned by Exchange after Close.
var ErrClosed = errors.New("chipsim: transport closed")

// Fault intercepts a plain command before the chip handles it. A non-nil
// error is returned from Exchange as a transport failure; a non-zero status
// word is answered instead of handling the command.
type Fault func(selected models.FileID, cmd apdu.Command) (sw uint16, err error)

// Chip is an in-memory chip reachable through its apdu.Transport methods.
type Chip struct {
	mu sync.Mutex

	provider      smcrypto.Provider
	files         map[models.FileID][]byte
	key           models.KeySpec
	pace          *paceConfig
	requireAccess bool
	maxRead       int
	fault         Fault

	appSelected bool
	selected    models.FileID
	session     *securemsg.Session
	established models.AccessControl
	rndIC       []byte
	paceRun     *paceRun

	exchanges int
	closes    int
	log       []apdu.Command
}

type paceConfig struct {
	info   access.PACEInfo
	cipher smcrypto.Cipher
	reject bool
}

// Option configures a Chip.
type Option func(*Chip)

// WithFiles replaces the document files.
func WithFiles(files map[models.FileID][]byte) Option {
	return func(c *Chip) {
		c.files = files
	}
}

// WithKey sets the MRZ key the chip derives its access keys from.
func WithKey(k models.KeySpec) Option {
	return func(c *Chip) {
		c.key = k
	}
}

// WithPACE announces PACE ECDH generic mapping with the given standardized
// domain parameters and cipher in EF.CardAccess.
func WithPACE(parameterID int, cipher smcrypto.Cipher) Option {
	return func(c *Chip) {
		c.pace = &paceConfig{
			info: access.PACEInfo{
				Protocol:    access.PACEProtocol(access.MappingECDHGeneric, cipher),
				Version:     2,
				ParameterID: parameterID,
			},
			cipher: cipher,
		}
	}
}

// WithPACERejected makes the chip refuse the terminal's authentication token.
func WithPACERejected() Option {
	return func(c *Chip) {
		if c.pace != nil {
			c.pace.reject = true
		}
	}
}

// WithoutAccessControl lets plain reads through, like early non-BAC documents.
func WithoutAccessControl() Option {
	return func(c *Chip) {
		c.requireAccess = false
	}
}

// WithMaxRead answers 6700 to reads longer than n bytes.
func WithMaxRead(n int) Option {
	return func(c *Chip) {
		c.maxRead = n
	}
}

func WithFault(f Fault) Option {
	return func(c *Chip) {
		c.fault = f
	}
}

// New creates a chip holding the specimen document.
func New(opts ...Option) *Chip {
	c := &Chip{
		provider:      smcrypto.NewStdProvider(),
		files:         testutil.NewDocumentBuilder().Build(),
		key:           testutil.SpecimenKeySpec(),
		requireAccess: true,
		established:   models.AccessNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange implements apdu.Transport.
func (c *Chip) Exchange(ctx context.Context, raw []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return nil, ErrClosed
	}
	c.exchanges++

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return status(apdu.SWWrongLength), nil
	}

	protected := cmd.CLA&apdu.CLASecureMessaging == apdu.CLASecureMessaging
	plain := cmd
	switch {
	case protected && c.session == nil:
		return status(apdu.SWSMDataObjectsIncorrect), nil
	case protected:
		if plain, err = c.session.UnprotectCommand(cmd); err != nil {
			c.dropSession()
			return status(apdu.SWSMDataObjectsIncorrect), nil
		}
	case c.session != nil:
		// A plain command aborts secure messaging.
		c.dropSession()
	}
	c.log = append(c.log, plain)

	var resp apdu.Response
	if c.fault != nil {
		sw, err := c.fault(c.selected, plain)
		if err != nil {
			return nil, err
		}
		resp.SW = sw
	}
	if resp.SW == 0 {
		resp = c.handle(plain)
	}

	if protected && c.session != nil {
		out, err := c.session.ProtectResponse(resp)
		if err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	return resp.Bytes(), nil
}

// Close implements apdu.Transport.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

// Closes counts Close calls.
func (c *Chip) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Exchanges counts Exchange calls that reached the chip.
func (c *Chip) Exchanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchanges
}

// Commands returns the plain commands received so far.
func (c *Chip) Commands() []apdu.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]apdu.Command(nil), c.log...)
}

// AccessControl reports the mechanism protecting the current session.
func (c *Chip) AccessControl() models.AccessControl {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.established
}

func (c *Chip) dropSession() {
	c.session = nil
	c.established = models.AccessNone
}

func (c *Chip) handle(cmd apdu.Command) apdu.Response {
	switch cmd.INS {
	case apdu.INSSelect:
		return c.selectFile(cmd)
	case apdu.INSReadBinary, apdu.INSReadBinaryOdd:
		return c.readBinary(cmd)
	case apdu.INSGetChallenge:
		return c.getChallenge()
	case apdu.INSExternalAuthenticate:
		return c.externalAuthenticate(cmd)
	case apdu.INSManageSecurityEnv:
		return c.setAuthenticationTemplate(cmd)
	case apdu.INSGeneralAuthenticate:
		return c.generalAuthenticate(cmd)
	default:
		return apdu.Response{SW: apdu.SWINSNotSupported}
	}
}

func (c *Chip) selectFile(cmd apdu.Command) apdu.Response {
	switch cmd.P1 {
	case 0x04:
		if !bytes.Equal(cmd.Data, apdu.MRTDApplicationID) {
			return apdu.Response{SW: apdu.SWFileNotFound}
		}
		c.appSelected = true
		c.selected = models.FileNone
		return apdu.Response{SW: apdu.SWSuccess}
	case 0x00, 0x02:
		if len(cmd.Data) != 2 {
			return apdu.Response{SW: apdu.SWWrongData}
		}
		id := models.FileID(uint16(cmd.Data[0])<<8 | uint16(cmd.Data[1]))
		if _, ok := c.content(id); !ok {
			return apdu.Response{SW: apdu.SWFileNotFound}
		}
		c.selected = id
		return apdu.Response{SW: apdu.SWSuccess}
	default:
		return apdu.Response{SW: apdu.SWWrongP1P2}
	}
}

func (c *Chip) content(id models.FileID) ([]byte, bool) {
	if id == models.FileCardAccess {
		if c.pace == nil {
			return nil, false
		}
		b, err := access.EncodeCardAccess(c.pace.info)
		return b, err == nil
	}
	if !c.appSelected {
		return nil, false
	}
	b, ok := c.files[id]
	return b, ok
}

func (c *Chip) readBinary(cmd apdu.Command) apdu.Response {
	if c.selected == models.FileNone {
		return apdu.Response{SW: apdu.SWConditionsNotSatisfied}
	}
	if c.requireAccess && c.session == nil && c.selected != models.FileCardAccess {
		return apdu.Response{SW: apdu.SWSecurityStatusNotSatisfied}
	}
	data, _ := c.content(c.selected)

	offset := int(cmd.P1&0x7F)<<8 | int(cmd.P2)
	ne := cmd.Ne
	if cmd.INS == apdu.INSReadBinaryOdd {
		o, _, err := tlv.Decode(cmd.Data)
		if err != nil || o.Tag != 0x54 {
			return apdu.Response{SW: apdu.SWWrongData}
		}
		offset = 0
		for _, b := range o.Value {
			offset = offset<<8 | int(b)
		}
		ne -= 4
	}
	if c.maxRead > 0 && ne > c.maxRead {
		return apdu.Response{SW: apdu.SWWrongLength}
	}
	if offset >= len(data) {
		return apdu.Response{SW: apdu.SWWrongP1P2}
	}

	end := min(offset+ne, len(data))
	out := append([]byte(nil), data[offset:end]...)
	sw := apdu.SWSuccess
	if offset+ne > len(data) {
		sw = apdu.SWEndOfFile
	}
	if cmd.INS == apdu.INSReadBinaryOdd {
		out = tlv.Encode(0x53, out)
	}
	return apdu.Response{Data: out, SW: sw}
}

func (c *Chip) getChallenge() apdu.Response {
	rnd, err := c.provider.Random(8)
	if err != nil {
		return apdu.Response{SW: apdu.SWConditionsNotSatisfied}
	}
	c.rndIC = rnd
	return apdu.Response{Data: rnd, SW: apdu.SWSuccess}
}

func (c *Chip) externalAuthenticate(cmd apdu.Command) apdu.Response {
	fail := apdu.Response{SW: apdu.SWAuthenticationFailed}
	if c.rndIC == nil {
		return apdu.Response{SW: apdu.SWConditionsNotSatisfied}
	}
	rndIC := c.rndIC
	c.rndIC = nil
	if len(cmd.Data) != 40 {
		return apdu.Response{SW: apdu.SWWrongLength}
	}

	p := c.provider
	seed, err := smcrypto.BACSeed(p, mrz.KeyInfo(c.key))
	if err != nil {
		return fail
	}
	kEnc, _ := smcrypto.DeriveKey(p, smcrypto.Cipher3DES, seed, smcrypto.CounterEnc)
	kMac, _ := smcrypto.DeriveKey(p, smcrypto.Cipher3DES, seed, smcrypto.CounterMAC)

	eIFD, mIFD := cmd.Data[:32], cmd.Data[32:]
	if err := smcrypto.VerifyMAC(p, smcrypto.Cipher3DES, kMac, eIFD, mIFD); err != nil {
		return fail
	}
	block, err := p.NewBlock(smcrypto.Cipher3DES, kEnc)
	if err != nil {
		return fail
	}
	iv := smcrypto.ZeroIV(smcrypto.Cipher3DES)
	s, err := smcrypto.DecryptCBC(block, iv, eIFD)
	if err != nil || !bytes.Equal(s[8:16], rndIC) {
		return fail
	}
	rndIFD, kIFD := s[:8], s[16:32]

	kIC, err := p.Random(16)
	if err != nil {
		return fail
	}
	r := append(append(append([]byte(nil), rndIC...), rndIFD...), kIC...)
	eIC, err := smcrypto.EncryptCBC(block, iv, r)
	if err != nil {
		return fail
	}
	mIC, err := smcrypto.MAC(p, smcrypto.Cipher3DES, kMac, eIC)
	if err != nil {
		return fail
	}

	sessionSeed := smcrypto.XOR(kIFD, kIC)
	ksEnc, _ := smcrypto.DeriveKey(p, smcrypto.Cipher3DES, sessionSeed, smcrypto.CounterEnc)
	ksMac, _ := smcrypto.DeriveKey(p, smcrypto.Cipher3DES, sessionSeed, smcrypto.CounterMAC)
	ssc := append(append([]byte(nil), rndIC[4:]...), rndIFD[4:]...)
	session, err := securemsg.NewSession(p, smcrypto.Cipher3DES, ksEnc, ksMac, ssc)
	if err != nil {
		return fail
	}
	c.session = session
	c.established = models.AccessBAC
	return apdu.Response{Data: append(eIC, mIC...), SW: apdu.SWSuccess}
}

func status(sw uint16) []byte {
	return apdu.Response{SW: sw}.Bytes()
}
