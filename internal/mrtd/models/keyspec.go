package models

import (
	"encoding/json"
	"strings"
	"time"

	dErrors "mrtdreader/pkg/domain-errors"
)

// DocumentNumberLength is the width of the document number field in the MRZ.
const DocumentNumberLength = 9

// FillerChar pads MRZ fields.
const FillerChar = '<'

const keySpecDateLayout = "2006-01-02"

// KeySpec is the MRZ-derived secret used to negotiate access to the chip.
type KeySpec struct {
	DocumentNumber string
	DateOfBirth    time.Time
	DateOfExpiry   time.Time
}

// NewKeySpec normalizes and validates the given values.
func NewKeySpec(documentNumber string, dateOfBirth, dateOfExpiry time.Time) (KeySpec, error) {
	k := KeySpec{
		DocumentNumber: normalizeDocumentNumber(documentNumber),
		DateOfBirth:    dateOfBirth,
		DateOfExpiry:   dateOfExpiry,
	}
	if err := k.Validate(); err != nil {
		return KeySpec{}, err
	}
	return k, nil
}

// Validate checks the document number format and that both dates are set.
func (k KeySpec) Validate() error {
	if k.DocumentNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "document number is required")
	}
	if len(k.DocumentNumber) > DocumentNumberLength {
		return dErrors.New(dErrors.CodeValidation, "document number must be at most 9 characters")
	}
	for _, c := range k.DocumentNumber {
		if !isMRZChar(c) {
			return dErrors.New(dErrors.CodeValidation, "document number contains invalid characters")
		}
	}
	if k.DateOfBirth.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "date of birth is required")
	}
	if k.DateOfExpiry.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "date of expiry is required")
	}
	return nil
}

// PaddedDocumentNumber returns the document number filled to exactly nine
// characters. Longer numbers are truncated to the MRZ field width.
func (k KeySpec) PaddedDocumentNumber() string {
	n := normalizeDocumentNumber(k.DocumentNumber)
	if len(n) >= DocumentNumberLength {
		return n[:DocumentNumberLength]
	}
	return n + strings.Repeat(string(FillerChar), DocumentNumberLength-len(n))
}

// BirthDateMRZ returns the date of birth as YYMMDD.
func (k KeySpec) BirthDateMRZ() string {
	return k.DateOfBirth.Format("060102")
}

// ExpiryDateMRZ returns the date of expiry as YYMMDD.
func (k KeySpec) ExpiryDateMRZ() string {
	return k.DateOfExpiry.Format("060102")
}

type keySpecJSON struct {
	DocNumber      string `json:"doc_number"`
	DocumentNumber string `json:"document_number,omitempty"`
	DateOfBirth    string `json:"dob"`
	DateOfExpiry   string `json:"doe"`
}

// MarshalJSON writes the persisted form {"doc_number","dob","doe"}.
func (k KeySpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(keySpecJSON{
		DocNumber:    k.DocumentNumber,
		DateOfBirth:  formatKeyDate(k.DateOfBirth),
		DateOfExpiry: formatKeyDate(k.DateOfExpiry),
	})
}

// UnmarshalJSON accepts either doc_number or document_number.
func (k *KeySpec) UnmarshalJSON(data []byte) error {
	var raw keySpecJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	docNumber := raw.DocNumber
	if docNumber == "" {
		docNumber = raw.DocumentNumber
	}
	dob, err := parseKeyDate(raw.DateOfBirth)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid dob, expected YYYY-MM-DD")
	}
	doe, err := parseKeyDate(raw.DateOfExpiry)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid doe, expected YYYY-MM-DD")
	}
	*k = KeySpec{
		DocumentNumber: normalizeDocumentNumber(docNumber),
		DateOfBirth:    dob,
		DateOfExpiry:   doe,
	}
	return nil
}

func formatKeyDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(keySpecDateLayout)
}

func parseKeyDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(keySpecDateLayout, s)
}

func normalizeDocumentNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func isMRZChar(c rune) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == FillerChar
}
