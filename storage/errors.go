package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a job is not found.
	ErrNotFound = errors.New("job not found")
)
