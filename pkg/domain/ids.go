// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "mrtdreader/pkg/domain-errors"
)

// ScanID identifies one scan attempt.
type ScanID uuid.UUID

// NewScanID returns a random scan ID.
func NewScanID() ScanID {
	return ScanID(uuid.New())
}

// ParseScanID validates s at trust boundaries (handlers, CLI input).
func ParseScanID(s string) (ScanID, error) {
	id, err := parseUUID(s, "scan ID")
	return ScanID(id), err
}

func (id ScanID) String() string { return uuid.UUID(id).String() }

func (id ScanID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return id, nil
}
