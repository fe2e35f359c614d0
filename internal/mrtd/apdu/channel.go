package apdu

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

//go:generate mockgen -source=channel.go -destination=mocks/channel_mock.go -package=mocks Transport,Channel

// ErrChannelClosed is returned by a Channel used after Close.
var ErrChannelClosed = errors.New("apdu: channel closed")

// Transport is the raw request/response byte exchange with the chip.
// Exchange blocks until the chip answers or ctx is done.
type Transport interface {
	Exchange(ctx context.Context, command []byte) ([]byte, error)
	Close() error
}

// Channel transmits command APDUs, optionally protecting them with secure
// messaging. Close releases session state only; the Transport is closed by its owner.
type Channel interface {
	Transmit(ctx context.Context, cmd Command) (Response, error)
	Close() error
}

// PlainChannel sends commands to the Transport unprotected.
type PlainChannel struct {
	transport Transport

	mu     sync.Mutex
	closed bool
}

// NewPlainChannel wraps t without secure messaging.
func NewPlainChannel(t Transport) *PlainChannel {
	return &PlainChannel{transport: t}
}

// Transmit encodes cmd, exchanges it and parses the response.
func (c *PlainChannel) Transmit(ctx context.Context, cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Response{}, ErrChannelClosed
	}
	raw, err := cmd.Bytes()
	if err != nil {
		return Response{}, err
	}
	out, err := c.transport.Exchange(ctx, raw)
	if err != nil {
		return Response{}, fmt.Errorf("exchange %02X: %w", cmd.INS, err)
	}
	return ParseResponse(out)
}

// Close marks the channel unusable.
func (c *PlainChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ Channel = (*PlainChannel)(nil)
