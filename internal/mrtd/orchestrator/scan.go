package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"mrtdreader/internal/mrtd/models"
)

// Sink receives the events of one scan, in order, from the scan's goroutine.
// Emit must not block for long: the scan waits for it.
type Sink interface {
	Emit(models.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(models.Event)

func (f SinkFunc) Emit(e models.Event) { f(e) }

// ChannelSink delivers events on a channel that is closed after the terminal
// event. The scan blocks while the buffer is full.
type ChannelSink struct {
	ch chan models.Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan models.Event, buffer)}
}

func (s *ChannelSink) Emit(e models.Event) {
	s.ch <- e
	if e.Kind.IsTerminal() {
		close(s.ch)
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan models.Event {
	return s.ch
}

// Scan is the handle of a running scan.
type Scan struct {
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
	done            chan struct{}

	mu       sync.Mutex
	progress models.Progress
	terminal *models.Event
}

func newScan(cancel context.CancelFunc) *Scan {
	return &Scan{
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: models.Progress{State: models.StateIdle},
	}
}

// Cancel asks the scan to stop. It is checked between stages and between
// image chunks; the scan then releases the chip and emits Cancelled. Cancel
// after the terminal event has no effect.
func (s *Scan) Cancel() {
	s.cancelRequested.Store(true)
	s.cancel()
}

// Done is closed once the terminal event has been emitted.
func (s *Scan) Done() <-chan struct{} {
	return s.done
}

// State is the current state of the scan.
func (s *Scan) State() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.State
}

// Progress is the last progress emitted.
func (s *Scan) Progress() models.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Outcome returns the terminal event once the scan has finished.
func (s *Scan) Outcome() (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal == nil {
		return models.Event{}, false
	}
	return *s.terminal, true
}

// Wait blocks until the scan finishes or ctx is done.
func (s *Scan) Wait(ctx context.Context) (models.Event, error) {
	select {
	case <-s.done:
		e, _ := s.Outcome()
		return e, nil
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	}
}

func (s *Scan) cancelled() bool {
	return s.cancelRequested.Load()
}

// emitter enforces the event contract: progress never decreases and nothing
// follows the terminal event.
type emitter struct {
	sink    Sink
	scan    *Scan
	overall float64
	done    bool
}

func (e *emitter) progress(state models.State, id models.FileID, overall float64, sub *float64) {
	if e.done {
		return
	}
	e.overall = max(e.overall, min(overall, 1))
	p := models.Progress{State: state, FileID: id, Overall: e.overall, Sub: sub}
	e.scan.mu.Lock()
	e.scan.progress = p
	e.scan.mu.Unlock()
	e.sink.Emit(models.Event{Kind: models.EventProgress, Progress: p})
}

func (e *emitter) terminal(ev models.Event) {
	if e.done {
		return
	}
	e.done = true
	e.scan.mu.Lock()
	ev.Progress = e.scan.progress
	switch ev.Kind {
	case models.EventCompleted:
		ev.Progress.State = models.StateCompleted
	case models.EventFailed:
		ev.Progress.State = models.StateFailed
	case models.EventCancelled:
		ev.Progress.State = models.StateCancelled
	}
	ev.Progress.Sub = nil
	e.scan.progress = ev.Progress
	e.scan.terminal = &ev
	e.scan.mu.Unlock()
	e.sink.Emit(ev)
}
