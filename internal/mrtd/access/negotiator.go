// Package access negotiates the secure channel to an MRTD chip: PACE when the
// chip announces it, otherwise a probe of unauthenticated access followed by
// Basic Access Control.
package access

import (
	"context"
	"fmt"
	"log/slog"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/mrz"
	"mrtdreader/internal/mrtd/reader"
	"mrtdreader/internal/mrtd/securemsg"
	"mrtdreader/internal/mrtd/smcrypto"
)

// Outcome is the result of one access control attempt.
type Outcome int

const (
	OutcomeNotAttempted Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "not_attempted"
	}
}

// Attempt records how an access control step ended. Err explains a Failed
// attempt, or why a step was NotAttempted when that was not a plain absence.
type Attempt struct {
	Outcome Outcome
	Err     error
}

// Result is an established channel and how it came about.
type Result struct {
	Channel apdu.Channel
	Method  models.AccessControl
	PACE    Attempt
	BAC     Attempt
}

// Negotiator establishes the channel a scan reads through.
type Negotiator struct {
	provider smcrypto.Provider
	reader   *reader.Reader
	logger   *slog.Logger
}

// Option configures a Negotiator.
type Option func(*Negotiator)

func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

// WithReader sets the reader used for EF.CardAccess.
func WithReader(r *reader.Reader) Option {
	return func(n *Negotiator) {
		n.reader = r
	}
}

// New creates a Negotiator drawing all cryptography from provider.
func New(provider smcrypto.Provider, opts ...Option) *Negotiator {
	n := &Negotiator{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.reader == nil {
		n.reader = reader.New(reader.WithLogger(n.logger))
	}
	return n
}

// Negotiate runs access control over t. A PACE failure only moves on to the
// fallback; errors of the application select, the probe or BAC are returned.
// The returned channel must be closed by the caller; t is never closed here.
func (n *Negotiator) Negotiate(ctx context.Context, t apdu.Transport, key models.KeySpec) (*Result, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	mrzInfo := mrz.KeyInfo(key)
	plain := apdu.NewPlainChannel(t)
	res := &Result{Method: models.AccessNone}

	session, attempt := n.attemptPACE(ctx, plain, mrzInfo)
	res.PACE = attempt
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ch apdu.Channel = plain
	if session != nil {
		ch = securemsg.NewChannel(t, session)
		res.Method = models.AccessPACE
	}
	if err := n.selectApplication(ctx, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if res.PACE.Outcome == OutcomeSucceeded {
		res.Channel = ch
		return res, nil
	}

	accepted, err := n.probe(ctx, plain)
	if err != nil {
		return nil, fmt.Errorf("probe unauthenticated access: %w", err)
	}
	if accepted {
		n.logger.WarnContext(ctx, "chip accepted unauthenticated read, proceeding without secure messaging")
		res.Channel = plain
		return res, nil
	}

	session, err = n.bac(ctx, plain, mrzInfo)
	if err != nil {
		res.BAC = Attempt{Outcome: OutcomeFailed, Err: err}
		return nil, fmt.Errorf("basic access control: %w", err)
	}
	res.BAC = Attempt{Outcome: OutcomeSucceeded}
	res.Method = models.AccessBAC
	res.Channel = securemsg.NewChannel(t, session)
	return res, nil
}

func (n *Negotiator) attemptPACE(ctx context.Context, ch apdu.Channel, mrzInfo string) (*securemsg.Session, Attempt) {
	raw, err := n.reader.ReadFile(ctx, ch, models.FileCardAccess)
	if err != nil {
		n.logger.DebugContext(ctx, "EF.CardAccess not readable, skipping PACE", "error", err)
		return nil, Attempt{Outcome: OutcomeNotAttempted, Err: err}
	}
	infos, err := ParseCardAccess(raw)
	if err != nil || len(infos) == 0 {
		n.logger.DebugContext(ctx, "no PACE parameters announced", "error", err)
		return nil, Attempt{Outcome: OutcomeNotAttempted, Err: err}
	}

	info := infos[0]
	session, err := n.pace(ctx, ch, info, mrzInfo)
	if err != nil {
		n.logger.InfoContext(ctx, "PACE failed, falling back",
			"protocol", info.Protocol.String(),
			"parameter_id", info.ParameterID,
			"error", err,
		)
		return nil, Attempt{Outcome: OutcomeFailed, Err: err}
	}
	return session, Attempt{Outcome: OutcomeSucceeded}
}

func (n *Negotiator) selectApplication(ctx context.Context, ch apdu.Channel) error {
	resp, err := ch.Transmit(ctx, apdu.SelectApplication())
	if err != nil {
		return fmt.Errorf("select application: %w", err)
	}
	if err := resp.Check(); err != nil {
		return fmt.Errorf("select application: %w", err)
	}
	return nil
}

// probe tries a one-byte plain read of EF.COM. A status word rejection means
// the chip wants access control; transport failures are returned.
func (n *Negotiator) probe(ctx context.Context, ch apdu.Channel) (bool, error) {
	resp, err := ch.Transmit(ctx, apdu.SelectFile(models.FileCOM.Bytes()))
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, nil
	}
	resp, err = ch.Transmit(ctx, apdu.ReadBinary(0, 1))
	if err != nil {
		return false, err
	}
	return resp.OK() && len(resp.Data) > 0, nil
}
