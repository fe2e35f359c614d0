package orchestrator_test

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"mrtdreader/internal/mrtd/access"
	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/face"
	"mrtdreader/internal/mrtd/metrics"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/orchestrator"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/pkg/testutil"
	"mrtdreader/pkg/testutil/chipsim"
)

const waitTimeout = 10 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a Sink keeping every event.
type recorder struct {
	mu     sync.Mutex
	events []models.Event
	hook   func(models.Event)
}

func (r *recorder) Emit(e models.Event) {
	if r.hook != nil {
		r.hook(e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func (r *recorder) terminals() []models.Event {
	var out []models.Event
	for _, e := range r.all() {
		if e.Kind.IsTerminal() {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) overall() []float64 {
	var out []float64
	for _, e := range r.all() {
		if e.Kind == models.EventProgress {
			out = append(out, e.Progress.Overall)
		}
	}
	return out
}

type OrchestratorSuite struct {
	suite.Suite
	ctx context.Context
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *OrchestratorSuite) newOrchestrator(opts ...orchestrator.Option) *orchestrator.Orchestrator {
	logger := discardLogger()
	negotiator := access.New(smcrypto.NewStdProvider(), access.WithLogger(logger))
	base := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithExtractor(face.NewExtractor(
			face.WithLogger(logger),
			face.WithChunkSize(64),
			face.WithDecoders(face.NewWaveletDecoder("/nonexistent/opj_decompress"), face.RasterDecoder{}),
		)),
	}
	return orchestrator.New(negotiator, append(base, opts...)...)
}

// run starts a scan and waits for it to finish.
func (s *OrchestratorSuite) run(o *orchestrator.Orchestrator, chip *chipsim.Chip, rec *recorder) models.Event {
	scan, err := o.Start(s.ctx, chip, testutil.SpecimenKeySpec(), rec)
	s.Require().NoError(err)
	return s.wait(scan)
}

func (s *OrchestratorSuite) wait(scan *orchestrator.Scan) models.Event {
	ctx, cancel := context.WithTimeout(s.ctx, waitTimeout)
	defer cancel()
	ev, err := scan.Wait(ctx)
	s.Require().NoError(err)
	return ev
}

// assertStream checks the event contract: non-decreasing progress and a
// single terminal event at the end.
func (s *OrchestratorSuite) assertStream(rec *recorder, want models.EventKind) {
	events := rec.all()
	s.Require().NotEmpty(events)
	s.Len(rec.terminals(), 1)
	s.Equal(want, events[len(events)-1].Kind)

	overall := rec.overall()
	for i := 1; i < len(overall); i++ {
		s.GreaterOrEqual(overall[i], overall[i-1], "progress decreased at event %d", i)
	}
}

func (s *OrchestratorSuite) TestCompletedWithBAC() {
	chip := chipsim.New()
	rec := &recorder{}

	ev := s.run(s.newOrchestrator(), chip, rec)

	s.Require().Equal(models.EventCompleted, ev.Kind)
	s.assertStream(rec, models.EventCompleted)
	res := ev.Result
	s.Require().NotNil(res)
	s.Equal("P", res.DocumentCode)
	s.Equal("UTO", res.IssuingState)
	s.Equal("ERIKSSON", res.PrimaryIdentifier)
	s.Equal([]string{"ANNA", "MARIA"}, res.SecondaryIdentifiers)
	s.Equal("L898902C", res.DocumentNumber)
	s.Equal("690806", res.DateOfBirth)
	s.Equal("940623", res.DateOfExpiry)
	s.Equal(models.GenderFemale, res.Gender)
	s.Equal(models.AccessBAC, res.AccessControl)
	s.Require().NotNil(res.FaceImage)
	s.Equal(16, res.FaceImage.Bounds().Dx())
	s.Equal(20, res.FaceImage.Bounds().Dy())

	s.Equal(1, chip.Closes())
}

func (s *OrchestratorSuite) TestProgressCheckpoints() {
	rec := &recorder{}
	s.run(s.newOrchestrator(), chipsim.New(), rec)

	events := rec.all()
	s.Equal(models.StateNegotiating, events[0].Progress.State)
	s.Equal(0.0, events[0].Progress.Overall)

	overall := rec.overall()
	s.Contains(overall, 0.25)
	s.Contains(overall, 0.5)
	s.Contains(overall, 0.75)

	// 1.0 is reached only by the progress event right before Completed.
	last := events[len(events)-2]
	s.Equal(models.EventProgress, last.Kind)
	s.Equal(1.0, last.Progress.Overall)
	for _, v := range overall[:len(overall)-1] {
		s.Less(v, 1.0)
	}

	var subs []float64
	for _, e := range events {
		if e.Progress.Sub != nil && e.Kind == models.EventProgress {
			s.Equal(models.StateExtractingImage, e.Progress.State)
			s.Equal(models.FileDG2, e.Progress.FileID)
			subs = append(subs, *e.Progress.Sub)
		}
	}
	s.Require().Greater(len(subs), 1)
	s.Equal(1.0, subs[len(subs)-1])
}

func (s *OrchestratorSuite) TestFilesReadInOrder() {
	chip := chipsim.New()
	s.run(s.newOrchestrator(), chip, &recorder{})

	var selected []models.FileID
	for _, c := range chip.Commands() {
		if c.INS == apdu.INSSelect && c.P1 == 0x02 && len(c.Data) == 2 {
			selected = append(selected, models.FileID(uint16(c.Data[0])<<8|uint16(c.Data[1])))
		}
	}
	// CardAccess and the EF.COM probe come from negotiation.
	s.Equal([]models.FileID{
		models.FileCardAccess, models.FileCOM,
		models.FileCOM, models.FileSOD, models.FileDG1, models.FileDG2,
	}, selected)
}

func (s *OrchestratorSuite) TestCompletedWithPACE() {
	chip := chipsim.New(chipsim.WithPACE(smcrypto.ParamNISTP256, smcrypto.CipherAES128))

	ev := s.run(s.newOrchestrator(), chip, &recorder{})
	s.Require().Equal(models.EventCompleted, ev.Kind)
	s.Equal(models.AccessPACE, ev.Result.AccessControl)
}

func (s *OrchestratorSuite) TestPACEFailureFallsBackWithoutFailing() {
	chip := chipsim.New(chipsim.WithPACE(smcrypto.ParamNISTP256, smcrypto.CipherAES128), chipsim.WithPACERejected())
	rec := &recorder{}

	ev := s.run(s.newOrchestrator(), chip, rec)
	s.Require().Equal(models.EventCompleted, ev.Kind)
	s.Equal(models.AccessBAC, ev.Result.AccessControl)
	s.assertStream(rec, models.EventCompleted)
}

func (s *OrchestratorSuite) TestAllAccessRejectedIsNegotiationFailure() {
	other := testutil.SpecimenKeySpec()
	other.DocumentNumber = "X1234567"
	chip := chipsim.New(
		chipsim.WithKey(other),
		chipsim.WithPACE(smcrypto.ParamNISTP256, smcrypto.CipherAES128),
	)
	rec := &recorder{}

	ev := s.run(s.newOrchestrator(), chip, rec)
	s.Require().Equal(models.EventFailed, ev.Kind)
	s.assertStream(rec, models.EventFailed)
	s.Equal(models.StageNegotiation, ev.Failure.Stage)
	s.False(ev.Failure.HasFile())
	s.Nil(ev.Result)
	for _, e := range rec.all() {
		s.NotEqual(models.StateReadingFile, e.Progress.State)
	}
	s.Equal(1, chip.Closes())
}

func (s *OrchestratorSuite) TestReadFailureAbortsAtFile() {
	linkErr := errors.New("field lost")
	chip := chipsim.New(chipsim.WithFault(func(selected models.FileID, cmd apdu.Command) (uint16, error) {
		if selected == models.FileDG1 && cmd.INS == apdu.INSReadBinary {
			return 0, linkErr
		}
		return 0, nil
	}))
	rec := &recorder{}

	ev := s.run(s.newOrchestrator(), chip, rec)
	s.Require().Equal(models.EventFailed, ev.Kind)
	s.assertStream(rec, models.EventFailed)
	s.Equal(models.StageFileRead, ev.Failure.Stage)
	s.Equal(models.FileDG1, ev.Failure.FileID)
	s.ErrorIs(ev.Failure, linkErr)
	s.NotContains(rec.overall(), 0.75)
	s.Equal(1, chip.Closes())
}

func (s *OrchestratorSuite) TestChipErrorStatusIsReadFailure() {
	chip := chipsim.New(chipsim.WithFault(func(selected models.FileID, cmd apdu.Command) (uint16, error) {
		if selected == models.FileSOD && cmd.INS == apdu.INSReadBinary {
			return apdu.SWSecurityStatusNotSatisfied, nil
		}
		return 0, nil
	}))

	ev := s.run(s.newOrchestrator(), chip, &recorder{})
	s.Require().Equal(models.EventFailed, ev.Kind)
	s.Equal(models.StageFileRead, ev.Failure.Stage)
	s.Equal(models.FileSOD, ev.Failure.FileID)
}

func (s *OrchestratorSuite) TestMalformedFileIsDecodeFailure() {
	files := testutil.NewDocumentBuilder().WithMRZ("P<UTOTOO<<SHORT").Build()
	chip := chipsim.New(chipsim.WithFiles(files))

	ev := s.run(s.newOrchestrator(), chip, &recorder{})
	s.Require().Equal(models.EventFailed, ev.Kind)
	s.Equal(models.StageDecode, ev.Failure.Stage)
	s.Equal(models.FileDG1, ev.Failure.FileID)
	s.Equal(1, chip.Closes())
}

func (s *OrchestratorSuite) TestRasterFallbackImage() {
	img := testutil.JPEGImage(24, 32)
	files := testutil.NewDocumentBuilder().WithFaceImage(img, testutil.ImageTypeJPEG2000).Build()
	want, err := jpeg.Decode(bytes.NewReader(img))
	s.Require().NoError(err)

	ev := s.run(s.newOrchestrator(), chipsim.New(chipsim.WithFiles(files)), &recorder{})
	s.Require().Equal(models.EventCompleted, ev.Kind)
	s.Equal(want, ev.Result.FaceImage)
}

func (s *OrchestratorSuite) TestUndecodableImageStillCompletes() {
	files := testutil.NewDocumentBuilder().WithFaceImage(bytes.Repeat([]byte{0x42}, 500), testutil.ImageTypeJPEG).Build()
	rec := &recorder{}

	ev := s.run(s.newOrchestrator(), chipsim.New(chipsim.WithFiles(files)), rec)
	s.Require().Equal(models.EventCompleted, ev.Kind)
	s.Nil(ev.Result.FaceImage)
	s.Equal("ERIKSSON", ev.Result.PrimaryIdentifier)
	s.assertStream(rec, models.EventCompleted)
}

func (s *OrchestratorSuite) TestNoFaceStillCompletes() {
	files := testutil.NewDocumentBuilder().WithoutFaces().Build()

	ev := s.run(s.newOrchestrator(), chipsim.New(chipsim.WithFiles(files)), &recorder{})
	s.Require().Equal(models.EventCompleted, ev.Kind)
	s.Nil(ev.Result.FaceImage)
}

func (s *OrchestratorSuite) TestCancelDuringImageStreaming() {
	chip := chipsim.New()
	reached := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	rec := &recorder{hook: func(e models.Event) {
		if e.Kind == models.EventProgress && e.Progress.Sub != nil {
			once.Do(func() {
				close(reached)
				<-proceed
			})
		}
	}}

	scan, err := s.newOrchestrator().Start(s.ctx, chip, testutil.SpecimenKeySpec(), rec)
	s.Require().NoError(err)
	select {
	case <-reached:
	case <-time.After(waitTimeout):
		s.FailNow("image streaming not reached")
	}
	scan.Cancel()
	close(proceed)

	ev := s.wait(scan)
	s.Equal(models.EventCancelled, ev.Kind)
	s.Nil(ev.Result)
	s.Nil(ev.Failure)
	s.assertStream(rec, models.EventCancelled)
	s.Equal(1, chip.Closes())
	s.Equal(models.StateCancelled, scan.State())

	// The stream ends at the terminal event.
	events := rec.all()
	var afterReached int
	for _, e := range events {
		if e.Kind == models.EventProgress && e.Progress.Sub != nil {
			afterReached++
		}
	}
	s.Equal(1, afterReached)
}

func (s *OrchestratorSuite) TestCancelDuringNegotiation() {
	reached := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	chip := chipsim.New(chipsim.WithFault(func(_ models.FileID, cmd apdu.Command) (uint16, error) {
		if cmd.INS == apdu.INSGetChallenge {
			once.Do(func() {
				close(reached)
				<-proceed
			})
		}
		return 0, nil
	}))
	rec := &recorder{}

	scan, err := s.newOrchestrator().Start(s.ctx, chip, testutil.SpecimenKeySpec(), rec)
	s.Require().NoError(err)
	<-reached
	scan.Cancel()
	close(proceed)

	ev := s.wait(scan)
	s.Equal(models.EventCancelled, ev.Kind)
	s.assertStream(rec, models.EventCancelled)
	s.Equal(1, chip.Closes())
	for _, e := range rec.all() {
		s.NotEqual(models.StateReadingFile, e.Progress.State)
	}
}

func (s *OrchestratorSuite) TestParentContextCancelled() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	chip := chipsim.New()

	scan, err := s.newOrchestrator().Start(ctx, chip, testutil.SpecimenKeySpec(), &recorder{})
	s.Require().NoError(err)
	ev := s.wait(scan)
	s.Equal(models.EventCancelled, ev.Kind)
	s.Equal(1, chip.Closes())
}

func (s *OrchestratorSuite) TestCancelAfterCompletionHasNoEffect() {
	rec := &recorder{}
	o := s.newOrchestrator()
	scan, err := o.Start(s.ctx, chipsim.New(), testutil.SpecimenKeySpec(), rec)
	s.Require().NoError(err)
	s.wait(scan)

	scan.Cancel()
	s.Len(rec.terminals(), 1)
	out, ok := scan.Outcome()
	s.True(ok)
	s.Equal(models.EventCompleted, out.Kind)
}

func (s *OrchestratorSuite) TestOneScanInFlight() {
	proceed := make(chan struct{})
	reached := make(chan struct{})
	var once sync.Once
	first := chipsim.New(chipsim.WithFault(func(models.FileID, apdu.Command) (uint16, error) {
		once.Do(func() {
			close(reached)
			<-proceed
		})
		return 0, nil
	}))
	o := s.newOrchestrator()

	scan, err := o.Start(s.ctx, first, testutil.SpecimenKeySpec(), &recorder{})
	s.Require().NoError(err)
	<-reached
	s.Same(scan, o.Active())

	second := chipsim.New()
	_, err = o.Start(s.ctx, second, testutil.SpecimenKeySpec(), &recorder{})
	s.ErrorIs(err, orchestrator.ErrScanInProgress)
	s.Equal(0, second.Closes())

	close(proceed)
	s.wait(scan)
	s.Nil(o.Active())

	again, err := o.Start(s.ctx, second, testutil.SpecimenKeySpec(), &recorder{})
	s.Require().NoError(err)
	s.Equal(models.EventCompleted, s.wait(again).Kind)
}

func (s *OrchestratorSuite) TestInvalidKeyLeavesTransportOpen() {
	chip := chipsim.New()
	_, err := s.newOrchestrator().Start(s.ctx, chip, models.KeySpec{DocumentNumber: "L898902C"}, &recorder{})
	s.Error(err)
	s.Equal(0, chip.Closes())
	s.Equal(0, chip.Exchanges())
}

func (s *OrchestratorSuite) TestChannelSink() {
	sink := orchestrator.NewChannelSink(4)
	scan, err := s.newOrchestrator().Start(s.ctx, chipsim.New(), testutil.SpecimenKeySpec(), sink)
	s.Require().NoError(err)

	var last models.Event
	for e := range sink.Events() {
		last = e
	}
	s.Equal(models.EventCompleted, last.Kind)
	s.wait(scan)
}

func (s *OrchestratorSuite) TestMetrics() {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.run(s.newOrchestrator(orchestrator.WithMetrics(m)), chipsim.New(), &recorder{})

	s.Equal(1.0, promtest.ToFloat64(m.ScansTotal.WithLabelValues("completed")))
	s.Equal(1.0, promtest.ToFloat64(m.AccessControl.WithLabelValues("BAC")))
	s.Equal(1.0, promtest.ToFloat64(m.FaceDecodes.WithLabelValues("raster")))
	s.Equal(0.0, promtest.ToFloat64(m.ScansInFlight))
}

func TestStart_RequiresSink(t *testing.T) {
	o := orchestrator.New(access.New(smcrypto.NewStdProvider()))
	_, err := o.Start(context.Background(), chipsim.New(), testutil.SpecimenKeySpec(), nil)
	require.Error(t, err)
	assert.Nil(t, o.Active())
}
