package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"mrtdreader/internal/mrtd/access"
	"mrtdreader/internal/mrtd/apdu"
	"mrtdreader/internal/mrtd/events"
	"mrtdreader/internal/mrtd/face"
	"mrtdreader/internal/mrtd/metrics"
	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/orchestrator"
	"mrtdreader/internal/mrtd/service/mocks"
	"mrtdreader/internal/mrtd/smcrypto"
	"mrtdreader/internal/mrtd/store"
	storemocks "mrtdreader/internal/mrtd/store/mocks"
	"mrtdreader/pkg/domain"
	dErrors "mrtdreader/pkg/domain-errors"
	"mrtdreader/pkg/testutil"
	"mrtdreader/pkg/testutil/chipsim"
)

const waitTimeout = 10 * time.Second

type capturedEvents struct {
	mu   sync.Mutex
	recs []events.ScanFinished
}

func (c *capturedEvents) Emit(rec events.ScanFinished) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return true
}

func (c *capturedEvents) all() []events.ScanFinished {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.ScanFinished(nil), c.recs...)
}

// gate holds a chip on its first command until opened.
type gate struct {
	once    sync.Once
	reached chan struct{}
	proceed chan struct{}
}

func newGate() *gate {
	return &gate{reached: make(chan struct{}), proceed: make(chan struct{})}
}

func (g *gate) chip() *chipsim.Chip {
	return chipsim.New(chipsim.WithFault(func(models.FileID, apdu.Command) (uint16, error) {
		g.once.Do(func() {
			close(g.reached)
			<-g.proceed
		})
		return 0, nil
	}))
}

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	dialer  *mocks.MockDialer
	results *store.InMemory
	metrics *metrics.Metrics
	logger  *slog.Logger
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.dialer = mocks.NewMockDialer(s.ctrl)
	s.results = store.NewInMemory(nil)
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(s.dialer, s.newOrchestrator(), s.results, WithMetrics(s.metrics), WithLogger(s.logger))
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newOrchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(
		access.New(smcrypto.NewStdProvider(), access.WithLogger(s.logger)),
		orchestrator.WithLogger(s.logger),
		orchestrator.WithExtractor(face.NewExtractor(
			face.WithLogger(s.logger),
			face.WithDecoders(face.RasterDecoder{}),
		)),
	)
}

func (s *ServiceSuite) wait(id domain.ScanID) *Status {
	ctx, cancel := context.WithTimeout(s.ctx, waitTimeout)
	defer cancel()
	st, err := s.service.Wait(ctx, id)
	s.Require().NoError(err)
	return st
}

func (s *ServiceSuite) TestCompletedScanIsStored() {
	chip := chipsim.New()
	s.dialer.EXPECT().Dial(gomock.Any()).Return(chip, nil)

	id, err := s.service.Start(s.ctx, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	st := s.wait(id)

	s.Equal(models.StateCompleted, st.State())
	s.Equal(1.0, st.Progress.Overall)
	s.True(st.Stored)
	s.Nil(st.Failure)
	s.False(st.FinishedAt.Before(st.StartedAt))
	s.Equal(1, chip.Closes())

	result, err := s.service.Result(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("L898902C", result.DocumentNumber)
	s.Equal("ERIKSSON", result.PrimaryIdentifier)
	s.NotNil(result.FaceImage)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ResultsStored))
}

func (s *ServiceSuite) TestInvalidKeyDoesNotDial() {
	_, err := s.service.Start(s.ctx, models.KeySpec{DocumentNumber: "L898902C"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestDialFailure() {
	s.dialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := s.service.Start(s.ctx, testutil.SpecimenKeySpec())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestOneScanInFlight() {
	g := newGate()
	s.dialer.EXPECT().Dial(gomock.Any()).Return(g.chip(), nil).Times(1)

	ids := make(chan domain.ScanID, 1)
	res := testutil.RunConcurrent(8, func(int) error {
		id, err := s.service.Start(s.ctx, testutil.SpecimenKeySpec())
		if err == nil {
			ids <- id
		}
		return err
	})
	s.Equal(int32(1), res.Successes)
	s.Equal(int32(7), res.Conflicts)

	id := <-ids
	<-g.reached
	close(g.proceed)
	s.Equal(models.StateCompleted, s.wait(id).State())
}

func (s *ServiceSuite) TestCancelRunningScan() {
	g := newGate()
	chip := g.chip()
	s.dialer.EXPECT().Dial(gomock.Any()).Return(chip, nil)

	id, err := s.service.Start(s.ctx, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	<-g.reached

	_, err = s.service.Result(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeScanPending))
	s.True(s.service.Busy())

	s.Require().NoError(s.service.Cancel(s.ctx, id))
	close(g.proceed)
	st := s.wait(id)

	s.Equal(models.StateCancelled, st.State())
	s.Equal(1, chip.Closes())
	s.Eventually(func() bool { return !s.service.Busy() }, waitTimeout, 5*time.Millisecond)
	_, err = s.service.Result(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeScanCancelled))
	s.True(dErrors.HasCode(s.service.Cancel(s.ctx, id), dErrors.CodeConflict))
}

func (s *ServiceSuite) TestFailedScan() {
	other := testutil.SpecimenKeySpec()
	other.DocumentNumber = "X12345678"
	s.dialer.EXPECT().Dial(gomock.Any()).Return(chipsim.New(chipsim.WithKey(other)), nil)

	id, err := s.service.Start(s.ctx, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	st := s.wait(id)

	s.Equal(models.StateFailed, st.State())
	s.Require().NotNil(st.Failure)
	s.Equal(models.StageNegotiation, st.Failure.Stage)
	s.False(st.Stored)

	_, err = s.service.Result(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeScanFailed))
}

func (s *ServiceSuite) TestUnknownScan() {
	id := domain.NewScanID()

	_, err := s.service.Status(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.True(dErrors.HasCode(s.service.Cancel(s.ctx, id), dErrors.CodeNotFound))
	_, err = s.service.Result(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestResultFromSharedStore() {
	id := domain.NewScanID()
	s.Require().NoError(s.results.Save(s.ctx, id, testutil.SpecimenScanResult()))

	result, err := s.service.Result(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("UTO", result.IssuingState)
}

func (s *ServiceSuite) TestStoreFailureKeepsScanCompleted() {
	failing := storemocks.NewMockResultStore(s.ctrl)
	failing.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
	svc := New(s.dialer, s.newOrchestrator(), failing, WithLogger(s.logger))
	s.dialer.EXPECT().Dial(gomock.Any()).Return(chipsim.New(), nil)

	id, err := svc.Start(s.ctx, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	ctx, cancel := context.WithTimeout(s.ctx, waitTimeout)
	defer cancel()
	st, err := svc.Wait(ctx, id)
	s.Require().NoError(err)

	s.Equal(models.StateCompleted, st.State())
	s.False(st.Stored)
	_, err = svc.Result(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestStarterErrorClosesTransport() {
	starter := mocks.NewMockStarter(s.ctrl)
	starter.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))
	chip := chipsim.New()
	s.dialer.EXPECT().Dial(gomock.Any()).Return(chip, nil)
	svc := New(s.dialer, starter, s.results, WithLogger(s.logger))

	_, err := svc.Start(s.ctx, testutil.SpecimenKeySpec())
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(1, chip.Closes())
}

func (s *ServiceSuite) TestShutdownCancelsActiveScan() {
	g := newGate()
	chip := g.chip()
	s.dialer.EXPECT().Dial(gomock.Any()).Return(chip, nil)

	id, err := s.service.Start(s.ctx, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	<-g.reached

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	err = s.service.Shutdown(ctx)
	cancel()
	s.ErrorIs(err, context.DeadlineExceeded, "the chip is still held")

	close(g.proceed)
	st := s.wait(id)
	s.Equal(models.StateCancelled, st.State())
	s.Equal(1, chip.Closes())
	s.Eventually(func() bool { return !s.service.Busy() }, waitTimeout, 5*time.Millisecond)
	s.NoError(s.service.Shutdown(s.ctx))
}

func (s *ServiceSuite) TestFinishedScansArePruned() {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	svc := New(s.dialer, s.newOrchestrator(), s.results,
		WithLogger(s.logger), WithClock(clock), WithRetention(time.Minute))
	s.dialer.EXPECT().Dial(gomock.Any()).DoAndReturn(func(context.Context) (apdu.Transport, error) {
		return chipsim.New(), nil
	}).Times(2)

	first, err := svc.Start(s.ctx, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	ctx, cancel := context.WithTimeout(s.ctx, waitTimeout)
	defer cancel()
	_, err = svc.Wait(ctx, first)
	s.Require().NoError(err)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	second, err := svc.Start(s.ctx, testutil.SpecimenKeySpec())
	s.Require().NoError(err)
	_, err = svc.Wait(ctx, second)
	s.Require().NoError(err)

	_, err = svc.Status(s.ctx, first)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	result, err := svc.Result(s.ctx, first)
	s.Require().NoError(err, "the stored result outlives the session")
	s.Equal("L898902C", result.DocumentNumber)
}

func (s *ServiceSuite) TestFinishedScansEmitOneEvent() {
	sink := &capturedEvents{}
	svc := New(s.dialer, s.newOrchestrator(), s.results, WithLogger(s.logger), WithEvents(sink))
	other := testutil.SpecimenKeySpec()
	other.DocumentNumber = "X12345678"
	gomock.InOrder(
		s.dialer.EXPECT().Dial(gomock.Any()).Return(chipsim.New(), nil),
		s.dialer.EXPECT().Dial(gomock.Any()).Return(chipsim.New(chipsim.WithKey(other)), nil),
	)

	ctx, cancel := context.WithTimeout(s.ctx, waitTimeout)
	defer cancel()
	for range 2 {
		id, err := svc.Start(s.ctx, testutil.SpecimenKeySpec())
		s.Require().NoError(err)
		_, err = svc.Wait(ctx, id)
		s.Require().NoError(err)
	}

	recs := sink.all()
	s.Require().Len(recs, 2)
	s.Equal("completed", recs[0].Outcome)
	s.NotEmpty(recs[0].AccessControl)
	s.Equal("failed", recs[1].Outcome)
	s.Equal(models.StageNegotiation, recs[1].FailureStage)
	s.NotEqual(recs[0].ScanID, recs[1].ScanID)
}
