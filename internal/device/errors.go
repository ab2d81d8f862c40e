package device

import "errors"

// Sentinel errors for device operations.
var (
	ErrNotFound      = errors.New("device not found")
	ErrSerialExists  = errors.New("device serial already registered")
	ErrInvalidSerial = errors.New("invalid device serial")
)
