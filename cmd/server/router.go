package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mrtdreader/internal/mrtd/handler"
	"mrtdreader/internal/mrtd/service"
	"mrtdreader/internal/platform/config"
	"mrtdreader/internal/platform/health"
	"mrtdreader/pkg/platform/middleware/operator"
	request "mrtdreader/pkg/platform/middleware/request"
)

const (
	maxBodyBytes   = 16 << 10
	requestTimeout = 30 * time.Second
)

func newRouter(cfg config.Server, log *slog.Logger, svc *service.Service, checks *health.Handler, latency *request.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(request.Latency(latency, routePattern))

	checks.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.APIToken == "" {
		log.Warn("MRTD_API_TOKEN is not set; the scan API is open to any caller")
	}
	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(requestTimeout))
		r.Use(request.ContentTypeJSON)
		r.Use(request.BodyLimit(maxBodyBytes))
		r.Use(operator.RequireToken(cfg.APIToken, log))
		handler.New(svc, log).Register(r)
	})
	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
