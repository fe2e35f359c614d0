// Package events emits one record per finished scan for downstream
// consumers. Records carry the outcome and timings only, never document data.
package events

//go:generate mockgen -source=events.go -destination=mocks/events_mock.go -package=mocks Publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mrtdreader/internal/mrtd/models"
)

// DefaultBuffer is the number of records queued before Emit drops.
const DefaultBuffer = 64

// ScanFinished describes the terminal event of one scan.
type ScanFinished struct {
	ScanID        string               `json:"scan_id"`
	Outcome       string               `json:"outcome"`
	AccessControl models.AccessControl `json:"access_control,omitempty"`
	FailureStage  models.Stage         `json:"failure_stage,omitempty"`
	FailureFile   string               `json:"failure_file,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
	DurationMS    int64                `json:"duration_ms"`
}

// NewScanFinished builds the record for a terminal event.
func NewScanFinished(scanID string, e models.Event, startedAt, finishedAt time.Time) ScanFinished {
	rec := ScanFinished{
		ScanID:     scanID,
		Outcome:    e.Kind.String(),
		StartedAt:  startedAt.UTC(),
		FinishedAt: finishedAt.UTC(),
		DurationMS: finishedAt.Sub(startedAt).Milliseconds(),
	}
	if e.Result != nil {
		rec.AccessControl = e.Result.AccessControl
	}
	if e.Failure != nil {
		rec.FailureStage = e.Failure.Stage
		rec.FailureFile = e.Failure.FileID.String()
	}
	return rec
}

// Publisher delivers records to a broker.
type Publisher interface {
	Publish(ctx context.Context, rec ScanFinished) error
}

// Emitter queues records and publishes them on a background goroutine so
// scan goroutines never wait on the broker.
type Emitter struct {
	publisher Publisher
	queue     chan ScanFinished
	logger    *slog.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Emitter)

func WithBuffer(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.queue = make(chan ScanFinished, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// WithPublishTimeout bounds each Publish call.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewEmitter(publisher Publisher, opts ...Option) *Emitter {
	e := &Emitter{
		publisher: publisher,
		queue:     make(chan ScanFinished, DefaultBuffer),
		logger:    slog.Default(),
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for rec := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		if err := e.publisher.Publish(ctx, rec); err != nil {
			e.logger.Error("failed to publish scan event", "scan_id", rec.ScanID, "outcome", rec.Outcome, "error", err)
		}
		cancel()
	}
}

// Emit queues rec. It reports false when the queue is full or the emitter
// is closed; the record is dropped.
func (e *Emitter) Emit(rec ScanFinished) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.queue <- rec:
		return true
	default:
		e.logger.Warn("scan event buffer full, event dropped", "scan_id", rec.ScanID)
		return false
	}
}

// Close stops accepting records and waits for queued ones to be published.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
}
