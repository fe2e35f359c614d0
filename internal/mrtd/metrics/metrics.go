// Package metrics provides Prometheus metrics for document scans.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all scan metrics.
type Metrics struct {
	ScansStarted   prometheus.Counter
	ScansTotal     *prometheus.CounterVec   // by outcome: completed, failed, cancelled
	ScanFailures   *prometheus.CounterVec   // by stage and file
	AccessControl  *prometheus.CounterVec   // by negotiated mechanism
	PACEAttempts   *prometheus.CounterVec   // by outcome
	StageDuration  *prometheus.HistogramVec // by stage
	FaceImageBytes prometheus.Counter
	FaceDecodes    *prometheus.CounterVec // by decoder, "none" when no decoder succeeded
	ScansInFlight  prometheus.Gauge
	ResultsStored  prometheus.Counter
	ResultsExpired prometheus.Counter
}

// New registers the metrics with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics with reg, which lets tests use a
// private registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScansStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "mrtd_scans_started_total",
			Help: "Total number of scans started",
		}),
		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mrtd_scans_total",
			Help: "Total number of finished scans by outcome",
		}, []string{"outcome"}),
		ScanFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mrtd_scan_failures_total",
			Help: "Total number of failed scans by stage and file",
		}, []string{"stage", "file"}),
		AccessControl: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mrtd_access_control_total",
			Help: "Negotiated sessions by access control mechanism",
		}, []string{"method"}),
		PACEAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mrtd_pace_attempts_total",
			Help: "PACE attempts by outcome",
		}, []string{"outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mrtd_stage_duration_seconds",
			Help:    "Duration of scan stages",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		FaceImageBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "mrtd_face_image_bytes_total",
			Help: "Encoded face image bytes streamed from EF.DG2",
		}),
		FaceDecodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mrtd_face_decodes_total",
			Help: "Face image decodes by the decoder that succeeded",
		}, []string{"decoder"}),
		ScansInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "mrtd_scans_in_flight",
			Help: "Scans currently running",
		}),
		ResultsStored: f.NewCounter(prometheus.CounterOpts{
			Name: "mrtd_results_stored_total",
			Help: "Scan results written to the result store",
		}),
		ResultsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "mrtd_results_expired_total",
			Help: "Scan results dropped from the in-memory store after their TTL",
		}),
	}
}

// The Record methods accept a nil receiver so callers can run without metrics.

func (m *Metrics) RecordStart() {
	if m == nil {
		return
	}
	m.ScansStarted.Inc()
	m.ScansInFlight.Inc()
}

// RecordOutcome records the terminal outcome of a scan.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
	m.ScansInFlight.Dec()
}

func (m *Metrics) RecordFailure(stage, file string) {
	if m == nil {
		return
	}
	m.ScanFailures.WithLabelValues(stage, file).Inc()
}

func (m *Metrics) RecordNegotiation(method, paceOutcome string) {
	if m == nil {
		return
	}
	m.AccessControl.WithLabelValues(method).Inc()
	m.PACEAttempts.WithLabelValues(paceOutcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) AddFaceImageBytes(n int) {
	if m == nil {
		return
	}
	m.FaceImageBytes.Add(float64(n))
}

func (m *Metrics) RecordFaceDecode(decoder string) {
	if m == nil {
		return
	}
	if decoder == "" {
		decoder = "none"
	}
	m.FaceDecodes.WithLabelValues(decoder).Inc()
}

func (m *Metrics) RecordResultStored() {
	if m == nil {
		return
	}
	m.ResultsStored.Inc()
}

func (m *Metrics) RecordResultsExpired(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ResultsExpired.Add(float64(n))
}
