package sentinel

import "errors"

// Sentinel dependency errors. Stores and transports return these (optionally
// wrapped) so the scan service translates them into domain errors exactly once.
var (
	ErrNotFound    = errors.New("not found")
	ErrExpired     = errors.New("expired")
	ErrUnavailable = errors.New("unavailable")
	ErrTampered    = errors.New("integrity check failed")
)
