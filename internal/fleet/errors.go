package fleet

import "errors"

// Sentinel errors for fleet operations.
var (
	ErrBoatNotFound = errors.New("boat not found")
	ErrInvalidName  = errors.New("boat name is required")
)
