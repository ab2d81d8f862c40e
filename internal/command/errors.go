package command

import "errors"

// Sentinel errors for command queue operations.
var (
	// ErrNotFound means no command matches the (id, serial) pair. Late or
	// forged acks land here; it is a soft error, never fatal.
	ErrNotFound = errors.New("command not found")

	// ErrEmptySerial means the caller supplied no device serial.
	ErrEmptySerial = errors.New("device serial is required")

	// ErrInvalidPayload means the payload is not a JSON object and cannot
	// be carried in the wire envelope.
	ErrInvalidPayload = errors.New("payload must be a JSON object")
)
