// Package circuit tracks consecutive failures against a dependency and trips
// open once a threshold is reached, so health checks can report it down.
package circuit

import "sync"

// State is the breaker position.
type State int

const (
	// StateClosed means the dependency is reachable.
	StateClosed State = iota
	// StateOpen means recent attempts kept failing.
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Transition reports whether a Record call moved the breaker.
type Transition struct {
	Opened bool
	Closed bool
}

// Breaker is a two-state breaker. It opens after failureThreshold
// consecutive failures and closes after successThreshold consecutive
// successes while open. Callers keep trying while it is open; the breaker
// only reports.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failures         int
	successes        int
	lastErr          error
	failureThreshold int
	successThreshold int
}

type Option func(*Breaker)

// WithFailureThreshold defaults to 3.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold defaults to 1.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns nil while closed and the most recent failure while open.
func (b *Breaker) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed {
		return nil
	}
	return b.lastErr
}

// Record feeds the outcome of one attempt. A nil err counts as a success.
func (b *Breaker) Record(err error) Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastErr = err
		if b.state == StateClosed && b.failures >= b.failureThreshold {
			b.state = StateOpen
			return Transition{Opened: true}
		}
		return Transition{}
	}

	b.failures = 0
	if b.state == StateClosed {
		return Transition{}
	}
	b.successes++
	if b.successes < b.successThreshold {
		return Transition{}
	}
	b.state = StateClosed
	b.successes = 0
	b.lastErr = nil
	return Transition{Closed: true}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.lastErr = nil
}
