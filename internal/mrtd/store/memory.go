package store

import (
	"context"
	"sync"
	"time"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/sentinel"
	"mrtdreader/pkg/domain"
)

// DefaultTTL is how long a result stays retrievable.
const DefaultTTL = 10 * time.Minute

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// InMemory stores sealed results in process memory.
// Expired entries are invisible to Find and removed by Sweep.
type InMemory struct {
	mu      sync.Mutex
	entries map[domain.ScanID]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	codec   codec
}

type MemoryOption func(*InMemory)

// WithTTL sets the retention of saved results.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *InMemory) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemory) {
		s.now = now
	}
}

// NewInMemory creates an in-memory store. A nil sealer keeps results as plain JSON.
func NewInMemory(sealer *Sealer, opts ...MemoryOption) *InMemory {
	s := &InMemory{
		entries: make(map[domain.ScanID]memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
		codec:   codec{sealer: sealer},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Save(_ context.Context, id domain.ScanID, result *models.ScanResult) error {
	data, err := s.codec.encode(id, result)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = memoryEntry{data: data, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemory) Find(_ context.Context, id domain.ScanID) (*models.ScanResult, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok && !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.codec.decode(id, e.data)
}

// Sweep removes expired entries and returns how many it removed.
func (s *InMemory) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len is the number of entries held, expired or not.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
