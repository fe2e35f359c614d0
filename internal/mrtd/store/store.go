// Package store keeps the results of completed scans for a limited time.
//
// Results carry personal data, so both implementations hold them only in
// sealed form: the JSON document (face image embedded as a JPEG data URL) is
// encrypted with AES-GCM under a key derived from a configured secret, with
// the scan ID bound as additional data.
package store

//go:generate mockgen -source=store.go -destination=mocks/store_mock.go -package=mocks ResultStore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mrtdreader/internal/mrtd/models"
	"mrtdreader/internal/sentinel"
	"mrtdreader/pkg/domain"
)

// ResultStore persists completed scan results by scan ID.
type ResultStore interface {
	// Save stores result under id, replacing any earlier entry.
	Save(ctx context.Context, id domain.ScanID, result *models.ScanResult) error
	// Find returns the result stored under id.
	// Returns sentinel.ErrNotFound if there is none or it has expired.
	Find(ctx context.Context, id domain.ScanID) (*models.ScanResult, error)
}

// codec turns results into the bytes a store holds.
type codec struct {
	sealer *Sealer
}

func (c codec) encode(id domain.ScanID, result *models.ScanResult) ([]byte, error) {
	if result == nil {
		return nil, errors.New("nil scan result")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode scan result: %w", err)
	}
	if c.sealer == nil {
		return data, nil
	}
	return c.sealer.Seal(id, data)
}

func (c codec) decode(id domain.ScanID, data []byte) (*models.ScanResult, error) {
	if c.sealer != nil {
		opened, err := c.sealer.Open(id, data)
		if err != nil {
			return nil, err
		}
		data = opened
	}
	var result models.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode scan result: %w", err)
	}
	return &result, nil
}

// IsNotFound reports whether err means no result is stored.
func IsNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}
