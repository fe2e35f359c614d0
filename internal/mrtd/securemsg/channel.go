package securemsg

import (
	"context"
	"fmt"
	"sync"

	"mrtdreader/internal/mrtd/apdu"
)

// Channel routes every command through a Session before it reaches the Transport.
type Channel struct {
	transport apdu.Transport
	session   *Session

	mu     sync.Mutex
	closed bool
}

// NewChannel wraps t with session.
func NewChannel(t apdu.Transport, session *Session) *Channel {
	return &Channel{transport: t, session: session}
}

// Transmit protects cmd, exchanges it and verifies the response.
func (c *Channel) Transmit(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return apdu.Response{}, apdu.ErrChannelClosed
	}

	protected, err := c.session.Protect(cmd)
	if err != nil {
		return apdu.Response{}, fmt.Errorf("protect %02X: %w", cmd.INS, err)
	}
	raw, err := protected.Bytes()
	if err != nil {
		return apdu.Response{}, err
	}
	out, err := c.transport.Exchange(ctx, raw)
	if err != nil {
		return apdu.Response{}, fmt.Errorf("exchange %02X: %w", cmd.INS, err)
	}
	resp, err := apdu.ParseResponse(out)
	if err != nil {
		return apdu.Response{}, err
	}
	plain, err := c.session.Unprotect(resp)
	if err != nil {
		return apdu.Response{}, fmt.Errorf("unprotect %02X: %w", cmd.INS, err)
	}
	return plain, nil
}

// Close wipes the session keys. The Transport stays open.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.session.Wipe()
	}
	return nil
}

var _ apdu.Channel = (*Channel)(nil)
