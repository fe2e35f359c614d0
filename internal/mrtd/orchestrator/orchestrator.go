// Package orchestrator runs a document scan: access negotiation, the reads of
// EF.COM, EF.SOD, EF.DG1 and EF.DG2, MRZ extraction and face image extraction.
// A scan runs on its own goroutine and reports to a Sink: progress events
// followed by exactly one of Completed, Failed or Cancelled.
package orchestrator

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"mrtdreader/internal/mrtd/access"
	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/face"
	"mrtdreader/internal/mrtd/lds"
	"mrtdreader/internal/mrtd/metrics"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/mrz"
	"mrtdreader/internal/mrtd/reader"
	"mrtdreader/internal/mrtd/tracer"
)

// ErrScanInProgress is returned by Start while another scan is running.
var ErrScanInProgress = errors.New("orchestrator: a scan is already in progress")

// errCancelled stops the pipeline at a stage boundary after Cancel.
var errCancelled = errors.New("scan cancelled")

// Overall progress after each of the first three files. Image streaming then
// moves from the last checkpoint towards imageCeiling.
var checkpoints = map[models.FileID]float64{
	models.FileCOM: 0.25,
	models.FileSOD: 0.5,
	models.FileDG1: 0.75,
}

const (
	imageFloor   = 0.75
	imageCeiling = 0.95
)

// Negotiator establishes the channel a scan reads through.
type Negotiator interface {
	Negotiate(ctx context.Context, t apdu.Transport, key models.KeySpec) (*access.Result, error)
}

// Orchestrator runs at most one scan at a time.
type Orchestrator struct {
	negotiator Negotiator
	reader     *reader.Reader
	extractor  *face.Extractor
	tracer     tracer.Tracer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	active *Scan
}

type Option func(*Orchestrator)

func WithReader(r *reader.Reader) Option {
	return func(o *Orchestrator) {
		o.reader = r
	}
}

func WithExtractor(e *face.Extractor) Option {
	return func(o *Orchestrator) {
		o.extractor = e
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithMetrics enables Prometheus metrics. Scans run without metrics by default.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock sets the clock stamping completed results.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator around negotiator.
func New(negotiator Negotiator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		negotiator: negotiator,
		tracer:     tracer.NewNoop(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reader == nil {
		o.reader = reader.New(reader.WithLogger(o.logger))
	}
	if o.extractor == nil {
		o.extractor = face.NewExtractor(face.WithLogger(o.logger))
	}
	return o
}

// Start validates key and starts a scan over transport. On success the scan
// owns transport and closes it exactly once, before its terminal event; on
// error the caller keeps it. Cancelling ctx cancels the scan.
func (o *Orchestrator) Start(ctx context.Context, transport apdu.Transport, key models.KeySpec, sink Sink) (*Scan, error) {
	if transport == nil || sink == nil {
		return nil, errors.New("orchestrator: transport and sink are required")
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, ErrScanInProgress
	}

	scanCtx, cancel := context.WithCancel(ctx)
	s := newScan(cancel)
	o.active = s
	o.metrics.RecordStart()

	go o.run(scanCtx, s, transport, key, sink)
	return s, nil
}

// Active returns the running scan, if any.
func (o *Orchestrator) Active() *Scan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// resources are the chip handles a scan must release on every exit.
type resources struct {
	once      sync.Once
	transport apdu.Transport
	channel   apdu.Channel
}

func (r *resources) release() error {
	var err error
	r.once.Do(func() {
		if r.channel != nil {
			err = r.channel.Close()
		}
		err = errors.Join(err, r.transport.Close())
	})
	return err
}

func (o *Orchestrator) run(ctx context.Context, s *Scan, transport apdu.Transport, key models.KeySpec, sink Sink) {
	em := &emitter{sink: sink, scan: s}
	res := &resources{transport: transport}
	docHash := tracer.HashDocumentNumber(key.DocumentNumber)
	logger := o.logger.With("document_hash", docHash)

	ctx, span := o.tracer.Start(ctx, tracer.SpanScan, tracer.String(tracer.AttrDocumentHash, docHash))
	start := time.Now()

	result, err := o.execute(ctx, s, res, key, em, logger)

	if cerr := res.release(); cerr != nil {
		logger.WarnContext(ctx, "closing chip connection failed", "error", cerr)
	}

	var ev models.Event
	switch {
	case s.cancelled() || errors.Is(err, context.Canceled):
		ev = models.Event{Kind: models.EventCancelled}
		span.AddEvent(tracer.EventCancelled)
		logger.InfoContext(ctx, "scan cancelled")
		err = nil
	case err != nil:
		f, ok := models.AsFailure(err)
		if !ok {
			f = models.NegotiationError(err)
			if id := s.Progress().FileID; id != models.FileNone {
				f = models.FileReadError(id, err)
			}
		}
		ev = models.Event{Kind: models.EventFailed, Failure: f}
		o.metrics.RecordFailure(string(f.Stage), f.FileID.String())
		logger.WarnContext(ctx, "scan failed",
			"stage", f.Stage,
			"file_id", f.FileID.String(),
			"error", f.Cause,
		)
	default:
		em.progress(models.StateCompleted, models.FileDG2, 1, nil)
		ev = models.Event{Kind: models.EventCompleted, Result: result}
		logger.InfoContext(ctx, "scan completed",
			"access_control", result.AccessControl,
			"face_image", result.FaceImage != nil,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	span.SetAttributes(tracer.String(tracer.AttrOutcome, ev.Kind.String()))
	span.End(err)
	o.metrics.ObserveStage("scan", time.Since(start))
	o.metrics.RecordOutcome(ev.Kind.String())

	em.terminal(ev)

	o.mu.Lock()
	if o.active == s {
		o.active = nil
	}
	o.mu.Unlock()
	s.cancel()
	close(s.done)
}

// execute runs the pipeline. The returned result is complete or nil.
func (o *Orchestrator) execute(ctx context.Context, s *Scan, res *resources, key models.KeySpec, em *emitter, logger *slog.Logger) (*models.ScanResult, error) {
	checkpoint := func() error {
		if s.cancelled() {
			return errCancelled
		}
		return ctx.Err()
	}

	em.progress(models.StateNegotiating, models.FileNone, 0, nil)
	negotiated, err := o.negotiate(ctx, res, key, logger)
	if err != nil {
		return nil, err
	}

	var files lds.Files
	for _, id := range models.ScanFiles {
		if err := checkpoint(); err != nil {
			return nil, err
		}
		em.progress(models.StateReadingFile, id, em.overall, nil)
		f, err := o.readFile(ctx, res.channel, id)
		if err != nil {
			return nil, err
		}
		files.Add(f)
		if cp, ok := checkpoints[id]; ok {
			em.progress(models.StateReadingFile, id, cp, nil)
		}
	}

	if files.DG1 == nil {
		return nil, models.DecodeError(models.FileDG1, errors.New("no identity data decoded"))
	}
	doc, err := mrz.Parse(files.DG1.MRZ)
	if err != nil {
		return nil, models.DecodeError(models.FileDG1, err)
	}
	if err := checkpoint(); err != nil {
		return nil, err
	}

	img, err := o.extractFace(ctx, files.DG2, em, checkpoint)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(); err != nil {
		return nil, err
	}

	result := &models.ScanResult{
		AccessControl: negotiated.Method,
		CompletedAt:   o.now().UTC(),
	}
	doc.Apply(result)
	result.FaceImage = img
	return result, nil
}

func (o *Orchestrator) negotiate(ctx context.Context, res *resources, key models.KeySpec, logger *slog.Logger) (*access.Result, error) {
	ctx, span := o.tracer.Start(ctx, tracer.SpanNegotiate)
	start := time.Now()
	negotiated, err := o.negotiator.Negotiate(ctx, res.transport, key)
	o.metrics.ObserveStage("negotiation", time.Since(start))
	if err != nil {
		span.End(err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NegotiationError(err)
	}
	res.channel = negotiated.Channel

	if negotiated.PACE.Outcome == access.OutcomeFailed {
		span.AddEvent(tracer.EventPACEFallback)
	}
	span.SetAttributes(
		tracer.String(tracer.AttrAccessControl, string(negotiated.Method)),
		tracer.String(tracer.AttrPACEOutcome, negotiated.PACE.Outcome.String()),
	)
	span.End(nil)
	o.metrics.RecordNegotiation(string(negotiated.Method), negotiated.PACE.Outcome.String())
	logger.InfoContext(ctx, "secure channel established",
		"access_control", negotiated.Method,
		"pace", negotiated.PACE.Outcome.String(),
	)
	return negotiated, nil
}

func (o *Orchestrator) readFile(ctx context.Context, ch apdu.Channel, id models.FileID) (lds.File, error) {
	ctx, span := o.tracer.Start(ctx, tracer.SpanReadFile, tracer.String(tracer.AttrFileID, id.String()))
	start := time.Now()
	f, err := o.reader.Read(ctx, ch, id)
	o.metrics.ObserveStage("read_file", time.Since(start))
	span.End(err)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// extractFace streams the image while mapping its sub-progress onto the
// overall range left after the file checkpoints.
func (o *Orchestrator) extractFace(ctx context.Context, dg2 *lds.DG2, em *emitter, checkpoint func() error) (img image.Image, err error) {
	ctx, span := o.tracer.Start(ctx, tracer.SpanExtractFace)
	defer func() { span.End(err) }()
	start := time.Now()
	defer func() { o.metrics.ObserveStage("extract_face", time.Since(start)) }()

	var stopped error
	onProgress := func(sub float64) {
		if stopped != nil {
			return
		}
		if stopped = checkpoint(); stopped != nil {
			return
		}
		v := sub
		em.progress(models.StateExtractingImage, models.FileDG2, imageFloor+(imageCeiling-imageFloor)*sub, &v)
	}
	em.progress(models.StateExtractingImage, models.FileDG2, imageFloor, nil)

	res, err := o.extractor.Extract(ctx, dg2, onProgress)
	if stopped != nil {
		return nil, stopped
	}
	if err != nil {
		return nil, err
	}

	if res.Info != nil {
		span.SetAttributes(
			tracer.String(tracer.AttrImageType, res.Info.ImageDataType.String()),
			tracer.Int64(tracer.AttrImageLength, int64(res.Info.ImageLength)),
			tracer.String(tracer.AttrDecoder, res.Decoder),
		)
		o.metrics.AddFaceImageBytes(len(res.Encoded))
		o.metrics.RecordFaceDecode(res.Decoder)
	}
	if res.DecodeErr != nil {
		span.AddEvent(tracer.EventImageUndecoded)
	}
	if res.Image == nil {
		return nil, nil
	}
	return res.Image, nil
}
