package handler

import (
	"mrtdreader/internal/mrtd/models"
	dErrors "mrtdreader/pkg/domain-errors"
)

// StartScanRequest carries the access key printed on the document.
type StartScanRequest struct {
	KeySpec models.KeySpec `json:"key_spec"`
}

func (r *StartScanRequest) Validate() error {
	if r.KeySpec.DocumentNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "key_spec.doc_number is required")
	}
	return r.KeySpec.Validate()
}
