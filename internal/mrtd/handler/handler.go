// Package handler serves the scan API over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/mrtd/service"
	"mrtdreader/pkg/domain"
	dErrors "mrtdreader/pkg/domain-errors"
	"mrtdreader/pkg/platform/httputil"
	"mrtdreader/pkg/platform/middleware/operator"
	request "mrtdreader/pkg/platform/middleware/request"
)

// Service defines the scan operations the API exposes.
type Service interface {
	Start(ctx context.Context, key models.KeySpec) (domain.ScanID, error)
	Status(ctx context.Context, id domain.ScanID) (*service.Status, error)
	Cancel(ctx context.Context, id domain.ScanID) error
	Result(ctx context.Context, id domain.ScanID) (*models.ScanResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/scans", h.HandleStartScan)
	r.Get("/scans/{id}", h.HandleGetScan)
	r.Delete("/scans/{id}", h.HandleCancelScan)
	r.Get("/scans/{id}/result", h.HandleGetResult)
}

// HandleStartScan starts a scan and answers 202 with its ID.
func (h *Handler) HandleStartScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeRequest[StartScanRequest](w, r, h.logger)
	if !ok {
		return
	}

	scanID, err := h.service.Start(ctx, req.KeySpec)
	if err != nil {
		h.logger.WarnContext(ctx, "start scan failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "scan accepted",
		"scan_id", scanID.String(),
		"operator_id", operator.GetOperatorID(ctx),
		"request_id", requestID,
	)
	w.Header().Set("Location", "/scans/"+scanID.String())
	httputil.WriteJSON(w, http.StatusAccepted, &StartScanResponse{ScanID: scanID.String()})
}

// HandleGetScan returns the state and progress of a scan.
func (h *Handler) HandleGetScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scanID, ok := h.scanID(w, r)
	if !ok {
		return
	}

	st, err := h.service.Status(ctx, scanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toScanStatusResponse(st))
}

// HandleCancelScan asks a running scan to stop. The scan reports Cancelled
// once the reader has been released.
func (h *Handler) HandleCancelScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scanID, ok := h.scanID(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(ctx, scanID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "scan cancel accepted",
		"scan_id", scanID.String(),
		"operator_id", operator.GetOperatorID(ctx),
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusAccepted, &StartScanResponse{ScanID: scanID.String()})
}

// HandleGetResult returns the document data of a completed scan.
func (h *Handler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scanID, ok := h.scanID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Result(ctx, scanID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) && !dErrors.HasCode(err, dErrors.CodeScanPending) {
			h.logger.WarnContext(ctx, "get scan result failed",
				"scan_id", scanID.String(),
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "scan result served",
		"scan_id", scanID.String(),
		"operator_id", operator.GetOperatorID(ctx),
		"request_id", request.GetRequestID(ctx),
	)
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) scanID(w http.ResponseWriter, r *http.Request) (domain.ScanID, bool) {
	id, err := domain.ParseScanID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid scan id"))
		return domain.ScanID{}, false
	}
	return id, true
}
