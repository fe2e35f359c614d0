// Package health serves the liveness, readiness and status probes of the scan service.
package health

import (
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"mrtdreader/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc returns nil when the dependency is reachable.
type CheckFunc func() error

type check struct {
	fn       CheckFunc
	optional bool
}

// Handler reports whether the service can take a scan. The reader relay and
// the result store gate readiness; optional dependencies such as the event
// broker only degrade it.
type Handler struct {
	startTime   time.Time
	environment string

	mu     sync.RWMutex
	checks map[string]check
	busy   func() bool
}

func New(environment string) *Handler {
	return &Handler{
		startTime:   time.Now(),
		environment: environment,
		checks:      make(map[string]check),
	}
}

// RegisterCheck adds a dependency a scan cannot run without.
func (h *Handler) RegisterCheck(name string, fn CheckFunc) {
	h.register(name, check{fn: fn})
}

// RegisterOptionalCheck adds a dependency whose outage leaves scans working.
func (h *Handler) RegisterOptionalCheck(name string, fn CheckFunc) {
	h.register(name, check{fn: fn, optional: true})
}

func (h *Handler) register(name string, c check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

// SetScanProbe reports whether a scan currently holds the reader.
func (h *Handler) SetScanProbe(busy func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.busy = busy
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// ReadinessResponse lists every dependency as "up" or "down: <reason>".
// Status is ready, degraded (an optional dependency is down) or not_ready.
type ReadinessResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Degraded []string          `json:"degraded,omitempty"`
}

// HandleReadiness answers 503 only when a required dependency is down.
func (h *Handler) HandleReadiness(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	checks := maps.Clone(h.checks)
	h.mu.RUnlock()

	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
	ready := true
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		c := checks[name]
		if err := c.fn(); err != nil {
			resp.Checks[name] = "down: " + err.Error()
			if c.optional {
				resp.Degraded = append(resp.Degraded, name)
			} else {
				ready = false
			}
			continue
		}
		resp.Checks[name] = "up"
	}

	switch {
	case !ready:
		resp.Status = "not_ready"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	case len(resp.Degraded) > 0:
		resp.Status = "degraded"
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type StatusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Environment    string `json:"environment"`
	ScanInProgress bool   `json:"scan_in_progress"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Timestamp      string `json:"timestamp"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	busy := h.busy
	h.mu.RUnlock()

	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:         "healthy",
		Version:        Version,
		Environment:    h.environment,
		ScanInProgress: busy != nil && busy(),
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}
