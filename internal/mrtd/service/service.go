// Package service exposes document scans to callers that address them by ID:
// it dials the reader, starts the scan, tracks its status and keeps completed
// results in a ResultStore.
package service

//go:generate mockgen -source=service.go -destination=mocks/service_mock.go -package=mocks Dialer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/events"
	"mrtdreader/internal/mrtd/metrics"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/orchestrator"
	"mrtdreader/internal/mrtd/store"
	"mrtdreader/pkg/domain"
	dErrors "mrtdreader/pkg/domain-errors"
)

// DefaultRetention is how long finished scans stay visible to Status.
const DefaultRetention = 10 * time.Minute

// Dialer connects to the chip reader.
type Dialer interface {
	Dial(ctx context.Context) (apdu.Transport, error)
}

// Starter runs scans; implemented by *orchestrator.Orchestrator.
type Starter interface {
	Start(ctx context.Context, transport apdu.Transport, key models.KeySpec, sink orchestrator.Sink) (*orchestrator.Scan, error)
}

// EventSink receives one record per finished scan; implemented by *events.Emitter.
type EventSink interface {
	Emit(rec events.ScanFinished) bool
}

// Status is a snapshot of one scan.
type Status struct {
	ScanID     domain.ScanID
	Progress   models.Progress
	Failure    *models.Failure
	Stored     bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// State is the scan's state.
func (s Status) State() models.State {
	return s.Progress.State
}

// Finished reports whether the terminal event has been recorded.
func (s Status) Finished() bool {
	return !s.FinishedAt.IsZero()
}

type session struct {
	id   domain.ScanID
	scan *orchestrator.Scan

	mu     sync.Mutex
	status Status
}

func (s *session) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.Progress.Sub != nil {
		v := *st.Progress.Sub
		st.Progress.Sub = &v
	}
	return st
}

// Service tracks scans by ID.
type Service struct {
	dialer    Dialer
	scans     Starter
	results   store.ResultStore
	metrics   *metrics.Metrics
	events    EventSink
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[domain.ScanID]*session
	active   *session
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithEvents(sink EventSink) Option {
	return func(s *Service) {
		s.events = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRetention sets how long finished scans are kept for Status.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(dialer Dialer, scans Starter, results store.ResultStore, opts ...Option) *Service {
	s := &Service{
		dialer:    dialer,
		scans:     scans,
		results:   results,
		logger:    slog.Default(),
		retention: DefaultRetention,
		now:       time.Now,
		sessions:  make(map[domain.ScanID]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start dials the reader and starts a scan with key. The scan outlives ctx;
// use Cancel to stop it.
func (s *Service) Start(ctx context.Context, key models.KeySpec) (domain.ScanID, error) {
	if err := key.Validate(); err != nil {
		return domain.ScanID{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return domain.ScanID{}, dErrors.New(dErrors.CodeConflict, "a scan is already in progress")
	}
	s.pruneLocked()

	transport, err := s.dialer.Dial(ctx)
	if err != nil {
		return domain.ScanID{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "chip reader unavailable")
	}

	sess := &session{id: domain.NewScanID()}
	sess.status = Status{
		ScanID:    sess.id,
		Progress:  models.Progress{State: models.StateIdle},
		StartedAt: s.now(),
	}

	scan, err := s.scans.Start(context.WithoutCancel(ctx), transport, key, orchestrator.SinkFunc(func(e models.Event) {
		s.record(sess, e)
	}))
	if err != nil {
		if cerr := transport.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "closing chip connection failed", "error", cerr)
		}
		if errors.Is(err, orchestrator.ErrScanInProgress) {
			return domain.ScanID{}, dErrors.Wrap(err, dErrors.CodeConflict, "a scan is already in progress")
		}
		return domain.ScanID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start scan")
	}
	sess.scan = scan
	s.sessions[sess.id] = sess
	s.active = sess

	s.logger.InfoContext(ctx, "scan started", "scan_id", sess.id.String())
	return sess.id, nil
}

// record runs on the scan goroutine for every event.
func (s *Service) record(sess *session, e models.Event) {
	if e.Kind == models.EventCompleted {
		stored := s.persist(sess.id, e.Result)
		sess.mu.Lock()
		sess.status.Stored = stored
		sess.mu.Unlock()
	}

	sess.mu.Lock()
	sess.status.Progress = e.Progress
	if e.Kind == models.EventFailed {
		sess.status.Failure = e.Failure
	}
	if e.Kind.IsTerminal() {
		sess.status.FinishedAt = s.now()
	}
	started, finished := sess.status.StartedAt, sess.status.FinishedAt
	sess.mu.Unlock()

	if e.Kind.IsTerminal() {
		if s.events != nil {
			s.events.Emit(events.NewScanFinished(sess.id.String(), e, started, finished))
		}
		s.mu.Lock()
		if s.active == sess {
			s.active = nil
		}
		s.mu.Unlock()
		s.logger.Info("scan finished", "scan_id", sess.id.String(), "outcome", e.Kind.String())
	}
}

func (s *Service) persist(id domain.ScanID, result *models.ScanResult) bool {
	ctx := context.Background()
	if err := s.results.Save(ctx, id, result); err != nil {
		s.logger.ErrorContext(ctx, "failed to store scan result", "scan_id", id.String(), "error", err)
		return false
	}
	s.metrics.RecordResultStored()
	return true
}

// pruneLocked drops finished sessions older than the retention window.
func (s *Service) pruneLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, sess := range s.sessions {
		st := sess.snapshot()
		if st.Finished() && st.FinishedAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

func (s *Service) lookup(id domain.ScanID) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "scan not found")
	}
	return sess, nil
}

// Status returns the latest snapshot of the scan.
func (s *Service) Status(_ context.Context, id domain.ScanID) (*Status, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	st := sess.snapshot()
	return &st, nil
}

// Cancel asks a running scan to stop. Cancelling a finished scan is a conflict.
func (s *Service) Cancel(ctx context.Context, id domain.ScanID) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	if sess.snapshot().Finished() {
		return dErrors.New(dErrors.CodeConflict, "scan already finished")
	}
	sess.scan.Cancel()
	s.logger.InfoContext(ctx, "scan cancel requested", "scan_id", id.String())
	return nil
}

// Result returns the stored result of a completed scan. Scans this process
// does not know about are still looked up, since the store may be shared.
func (s *Service) Result(ctx context.Context, id domain.ScanID) (*models.ScanResult, error) {
	if sess, err := s.lookup(id); err == nil {
		st := sess.snapshot()
		if !st.Finished() {
			return nil, dErrors.New(dErrors.CodeScanPending, "scan has not completed")
		}
		switch st.State() {
		case models.StateFailed:
			msg := "scan failed"
			if st.Failure != nil {
				msg = st.Failure.Error()
			}
			return nil, dErrors.New(dErrors.CodeScanFailed, msg)
		case models.StateCancelled:
			return nil, dErrors.New(dErrors.CodeScanCancelled, "scan was cancelled")
		}
		if !st.Stored {
			return nil, dErrors.New(dErrors.CodeUnavailable, "scan result could not be stored")
		}
	}

	result, err := s.results.Find(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, dErrors.New(dErrors.CodeNotFound, "scan result not found or expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load scan result")
	}
	return result, nil
}

// Busy reports whether a scan currently holds the reader.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Shutdown cancels the running scan and waits for its terminal event.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return nil
	}
	active.scan.Cancel()
	_, err := active.scan.Wait(ctx)
	return err
}

// Wait blocks until the scan has finished and released the reader, or ctx is done.
func (s *Service) Wait(ctx context.Context, id domain.ScanID) (*Status, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if _, err := sess.scan.Wait(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "timed out waiting for scan")
	}
	st := sess.snapshot()
	return &st, nil
}
