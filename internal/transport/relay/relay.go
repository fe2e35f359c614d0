// Package relay carries APDUs over TCP to a reader bridge (a phone NFC relay
// or a PC/SC daemon) and serves a local chip transport the same way.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/platform/privacy"
	"mrtdreader/internal/sentinel"
	"mrtdreader/pkg/platform/circuit"
)

const (
	DefaultExchangeTimeout = 5 * time.Second
	DefaultDialTimeout     = 3 * time.Second
)

var (
	ErrClosed = errors.New("relay: connection closed")
	// ErrBroken is returned after a failed exchange left the stream out of step.
	ErrBroken = errors.New("relay: connection broken by an earlier failure")
)

// Dialer opens relay connections to a fixed address.
type Dialer struct {
	addr            string
	exchangeTimeout time.Duration
	dialTimeout     time.Duration
	maxFrame        int
	logger          *slog.Logger
	breaker         *circuit.Breaker
}

type Option func(*Dialer)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dialer) {
		d.logger = logger
	}
}

// WithExchangeTimeout bounds one command/response round trip.
func WithExchangeTimeout(t time.Duration) Option {
	return func(d *Dialer) {
		if t > 0 {
			d.exchangeTimeout = t
		}
	}
}

func WithDialTimeout(t time.Duration) Option {
	return func(d *Dialer) {
		if t > 0 {
			d.dialTimeout = t
		}
	}
}

func WithMaxFrameSize(n int) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.maxFrame = n
		}
	}
}

// WithBreaker records every dial outcome on b.
func WithBreaker(b *circuit.Breaker) Option {
	return func(d *Dialer) {
		d.breaker = b
	}
}

func NewDialer(addr string, opts ...Option) (*Dialer, error) {
	if addr == "" {
		return nil, errors.New("relay address is required")
	}
	d := &Dialer{
		addr:            addr,
		exchangeTimeout: DefaultExchangeTimeout,
		dialTimeout:     DefaultDialTimeout,
		maxFrame:        DefaultMaxFrameSize,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dial connects to the relay. Failures wrap sentinel.ErrUnavailable.
func (d *Dialer) Dial(ctx context.Context) (apdu.Transport, error) {
	nd := net.Dialer{Timeout: d.dialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", d.addr)
	if ctx.Err() == nil {
		d.record(ctx, err)
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	c := newConn(conn, d.exchangeTimeout, d.maxFrame, d.logger)
	d.logger.InfoContext(ctx, "relay connected", "peer", c.peer)
	return c, nil
}

func (d *Dialer) record(ctx context.Context, err error) {
	if d.breaker == nil {
		return
	}
	switch t := d.breaker.Record(err); {
	case t.Opened:
		d.logger.WarnContext(ctx, "relay unreachable", "breaker", d.breaker.Name(), "error", err)
	case t.Closed:
		d.logger.InfoContext(ctx, "relay reachable again", "breaker", d.breaker.Name())
	}
}

// Conn is an apdu.Transport over one relay connection. Exchanges are serialized.
type Conn struct {
	conn     net.Conn
	timeout  time.Duration
	maxFrame int
	logger   *slog.Logger
	peer     string

	mu     sync.Mutex
	closed bool
	broken error
}

func newConn(conn net.Conn, timeout time.Duration, maxFrame int, logger *slog.Logger) *Conn {
	return &Conn{
		conn:     conn,
		timeout:  timeout,
		maxFrame: maxFrame,
		logger:   logger,
		peer:     privacy.AnonymizeAddr(conn.RemoteAddr().String()),
	}
}

// Exchange sends command and returns the chip's response. The deadline is the
// earlier of ctx's deadline and the exchange timeout; cancelling ctx aborts
// the exchange in flight.
func (c *Conn) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.broken != nil {
		return nil, errors.Join(ErrBroken, c.broken)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.fail(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0)) //nolint:errcheck // unblocks the pending read
	})
	defer stop()

	if err := WriteFrame(c.conn, command, c.maxFrame); err != nil {
		if errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrEmptyFrame) {
			return nil, err
		}
		return nil, c.fail(ctx, err)
	}
	resp, err := ReadFrame(c.conn, c.maxFrame)
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	return resp, nil
}

func (c *Conn) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.broken = ctxErr
		return ctxErr
	}
	c.broken = err
	c.logger.WarnContext(ctx, "relay exchange failed", "peer", c.peer, "error", err)
	return fmt.Errorf("relay exchange: %w", errors.Join(sentinel.ErrUnavailable, err))
}

// Close closes the connection. Later calls are no-ops.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("relay disconnected", "peer", c.peer)
	return c.conn.Close()
}

var _ apdu.Transport = (*Conn)(nil)
