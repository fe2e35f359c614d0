package producer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(Config{Brokers: " "}, nil)
	require.Error(t, err)

	_, err = New(Config{}, nil)
	assert.ErrorContains(t, err, "brokers not configured")
}

func TestClosedProducerRejects(t *testing.T) {
	// kgo does not connect until the first request.
	p, err := New(Config{Brokers: "127.0.0.1:1", Acks: "1"}, nil)
	require.NoError(t, err)
	p.Close(10 * time.Millisecond)
	p.Close(10 * time.Millisecond)

	assert.ErrorIs(t, p.Produce(context.Background(), &Message{Topic: "t"}), ErrClosed)
	assert.ErrorIs(t, p.Ping(context.Background()), ErrClosed)
}
