package handler

import (
	"time"

	"mrtdreader/internal/mrtd/service"
)

type StartScanResponse struct {
	ScanID string `json:"scan_id"`
}

type ProgressResponse struct {
	FileID  string   `json:"file_id,omitempty"`
	Overall float64  `json:"overall"`
	Sub     *float64 `json:"sub,omitempty"`
}

type FailureResponse struct {
	Stage   string `json:"stage"`
	FileID  string `json:"file_id,omitempty"`
	Message string `json:"message"`
}

type ScanStatusResponse struct {
	ScanID          string           `json:"scan_id"`
	State           string           `json:"state"`
	Progress        ProgressResponse `json:"progress"`
	Failure         *FailureResponse `json:"failure,omitempty"`
	ResultAvailable bool             `json:"result_available"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
}

func toScanStatusResponse(st *service.Status) *ScanStatusResponse {
	resp := &ScanStatusResponse{
		ScanID: st.ScanID.String(),
		State:  string(st.State()),
		Progress: ProgressResponse{
			FileID:  st.Progress.FileID.String(),
			Overall: st.Progress.Overall,
			Sub:     st.Progress.Sub,
		},
		ResultAvailable: st.Stored,
		StartedAt:       st.StartedAt,
	}
	if st.Finished() {
		finished := st.FinishedAt
		resp.FinishedAt = &finished
	}
	if f := st.Failure; f != nil {
		resp.Failure = &FailureResponse{
			Stage:   string(f.Stage),
			FileID:  f.FileID.String(),
			Message: f.Error(),
		}
	}
	return resp
}
