package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	dErrors "mrtdreader/pkg/domain-errors"
	request "mrtdreader/pkg/platform/middleware/request"
)

// Validatable is implemented by request types that check their own fields.
type Validatable interface {
	Validate() error
}

// DecodeRequest reads a single JSON object from the body into T and runs
// its Validate method when it has one. On failure it writes the error reply
// and returns false.
//
//	req, ok := httputil.DecodeRequest[handler.StartScanRequest](w, r, h.logger)
//	if !ok {
//	    return
//	}
func DecodeRequest[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	ctx := r.Context()
	var req T
	err := decodeBody(r.Body, &req)
	if err == nil {
		if v, ok := any(&req).(Validatable); ok {
			err = v.Validate()
		}
	}
	if err != nil {
		logger.WarnContext(ctx, "rejected request body",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		var domainErr *dErrors.Error
		if !errors.As(err, &domainErr) {
			err = dErrors.New(dErrors.CodeValidation, err.Error())
		}
		WriteError(w, err)
		return nil, false
	}
	return &req, true
}

// decodeBody passes domain errors from custom unmarshalers through unchanged.
func decodeBody(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		var domainErr *dErrors.Error
		switch {
		case errors.As(err, &tooLarge):
			return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.As(err, &domainErr):
			return err
		case errors.Is(err, io.EOF):
			return dErrors.New(dErrors.CodeBadRequest, "request body is empty")
		default:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
		}
	}
	if dec.More() {
		return dErrors.New(dErrors.CodeBadRequest, "request body must hold a single JSON object")
	}
	return nil
}
