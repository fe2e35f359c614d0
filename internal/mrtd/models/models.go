package models

import (
	"fmt"
	"image"
	"time"
)

// FileID identifies an elementary file on the chip by its two-byte file identifier.
type FileID uint16

// Elementary files read during a scan.
const (
	FileNone       FileID = 0x0000
	FileCardAccess FileID = 0x011C
	FileCOM        FileID = 0x011E
	FileSOD        FileID = 0x011D
	FileDG1        FileID = 0x0101
	FileDG2        FileID = 0x0102
)

// ScanFiles is the fixed order in which a scan reads elementary files.
var ScanFiles = []FileID{FileCOM, FileSOD, FileDG1, FileDG2}

// String returns the conventional name of the file.
func (f FileID) String() string {
	switch f {
	case FileNone:
		return ""
	case FileCardAccess:
		return "EF.CardAccess"
	case FileCOM:
		return "EF.COM"
	case FileSOD:
		return "EF.SOD"
	case FileDG1:
		return "EF.DG1"
	case FileDG2:
		return "EF.DG2"
	default:
		return fmt.Sprintf("EF.%04X", uint16(f))
	}
}

// Bytes returns the big-endian file identifier used in SELECT commands.
func (f FileID) Bytes() []byte {
	return []byte{byte(f >> 8), byte(f)}
}

// State is a ScanOrchestrator state.
type State string

const (
	StateIdle            State = "idle"
	StateNegotiating     State = "negotiating"
	StateReadingFile     State = "reading_file"
	StateExtractingImage State = "extracting_image"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

// IsTerminal reports whether no further transition can leave the state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// AccessControl names the mechanism that protected the session.
type AccessControl string

const (
	AccessNone AccessControl = "NONE"
	AccessPACE AccessControl = "PACE"
	AccessBAC  AccessControl = "BAC"
)

// Progress reports how far a scan has advanced.
// Overall is non-decreasing within one scan. Sub is set only while the face
// image is being streamed.
type Progress struct {
	State   State
	FileID  FileID
	Overall float64
	Sub     *float64
}

// Gender as recorded in the MRZ.
type Gender string

const (
	GenderMale        Gender = "MALE"
	GenderFemale      Gender = "FEMALE"
	GenderUnspecified Gender = "UNSPECIFIED"
	GenderUnknown     Gender = "UNKNOWN"
)

// ScanResult holds the document data of a completed scan.
// Dates are kept in the YYMMDD form the MRZ stores them in.
type ScanResult struct {
	DocumentCode         string
	IssuingState         string
	PrimaryIdentifier    string
	SecondaryIdentifiers []string
	Nationality          string
	DocumentNumber       string
	PersonalNumber       string
	DateOfBirth          string
	DateOfExpiry         string
	Gender               Gender
	FaceImage            image.Image
	AccessControl        AccessControl
	CompletedAt          time.Time
}

// EventKind discriminates Event.
type EventKind int

const (
	EventProgress EventKind = iota
	EventCompleted
	EventFailed
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the event ends the scan.
func (k EventKind) IsTerminal() bool {
	return k != EventProgress
}

// Event is one notification of a scan's event stream. A stream carries zero or
// more progress events followed by exactly one terminal event.
type Event struct {
	Kind     EventKind
	Progress Progress
	Result   *ScanResult
	Failure  *Failure
}
