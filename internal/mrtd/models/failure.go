package models

import (
	"errors"
	"fmt"
)

// Stage identifies where a scan failed.
type Stage string

const (
	StageNegotiation Stage = "negotiation"
	StageFileRead    Stage = "file_read"
	StageDecode      Stage = "decode"
)

// Category sentinels, matched with errors.Is against a *Failure.
var (
	ErrNegotiation = errors.New("secure channel negotiation failed")
	ErrFileRead    = errors.New("elementary file read failed")
	ErrDecode      = errors.New("elementary file decode failed")
)

// Failure is a fatal scan error tagged with the stage and, for file stages,
// the file being processed.
type Failure struct {
	Stage  Stage
	FileID FileID
	Cause  error
}

// NegotiationError wraps a failure of a mandatory negotiation step.
func NegotiationError(cause error) *Failure {
	return &Failure{Stage: StageNegotiation, Cause: cause}
}

// FileReadError wraps an I/O failure while reading the given file.
func FileReadError(id FileID, cause error) *Failure {
	return &Failure{Stage: StageFileRead, FileID: id, Cause: cause}
}

// DecodeError wraps a failure to decode the given file.
func DecodeError(id FileID, cause error) *Failure {
	return &Failure{Stage: StageDecode, FileID: id, Cause: cause}
}

// HasFile reports whether the failure is tied to a specific file.
func (f *Failure) HasFile() bool {
	return f.FileID != FileNone
}

func (f *Failure) Error() string {
	if f.HasFile() {
		return fmt.Sprintf("%s failed for %s: %v", f.Stage, f.FileID, f.Cause)
	}
	return fmt.Sprintf("%s failed: %v", f.Stage, f.Cause)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Is matches the category sentinel of the failure's stage.
func (f *Failure) Is(target error) bool {
	switch f.Stage {
	case StageNegotiation:
		return target == ErrNegotiation
	case StageFileRead:
		return target == ErrFileRead
	case StageDecode:
		return target == ErrDecode
	}
	return false
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
