package domain

import "errors"

// Deployment pipeline error taxonomy. Callers wrap these with context and match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrUnassigned        = errors.New("unassigned")
	ErrStateConflict     = errors.New("state conflict")
	ErrDriftDetected     = errors.New("drift detected")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRemote            = errors.New("remote error")
	ErrResolution        = errors.New("resolution failure")
)
