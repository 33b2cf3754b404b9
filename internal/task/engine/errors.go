package engine

import "pubmatrix/internal/errors"

var (
	ErrStopped = errors.New("lane executor not running")
	// ErrJobTimeout marks a job abandoned at its deadline. The remote effect
	// of such a job is unknown.
	ErrJobTimeout = errors.New("operation timed out")
)
