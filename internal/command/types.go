package command

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a queued command.
type Status string

const (
	// StatusQueued means the command is persisted but not yet handed to
	// any transport.
	StatusQueued Status = "queued"

	// StatusSent means the command was published over the broker link.
	StatusSent Status = "sent"

	// StatusSentHTTP means the command was served to the device over the
	// HTTP poll fallback.
	StatusSentHTTP Status = "sent_http"

	// StatusDelivered means the device acknowledged successful execution.
	StatusDelivered Status = "delivered"

	// StatusFailed means the device acknowledged with a failure.
	StatusFailed Status = "failed"

	// StatusExpired is a read-time presentation for non-terminal commands
	// whose deadline has passed. It is never stored.
	StatusExpired Status = "expired"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Command is one instruction queued for delivery to one device.
//
// DeviceID is resolved from the registry at submit time when possible and
// is nil for serials with no registered device; the serial is always the
// routing key. Payload is opaque to the queue: it is carried to the device
// verbatim and never interpreted here beyond the optimistic channel peek
// at submit time.
type Command struct {
	ID           string          `json:"id"`
	DeviceID     *string         `json:"device_id,omitempty"`
	DeviceSerial string          `json:"device_serial"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	FailReason   string          `json:"fail_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Expired reports whether the command's delivery deadline has passed.
func (c *Command) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// EffectiveStatus returns the stored status, except that a non-terminal
// command past its deadline reads as expired. Expiry is a read-time
// filter; no stored transition ever happens.
func (c *Command) EffectiveStatus(now time.Time) Status {
	if !c.Status.IsTerminal() && c.Expired(now) {
		return StatusExpired
	}
	return c.Status
}

// Envelope renders the command's wire form: the payload's own fields with
// the command id and advisory expiry (unix seconds) folded in. The device
// echoes the id back on ack.
func (c *Command) Envelope() ([]byte, error) {
	fields := map[string]any{}
	if len(c.Payload) > 0 {
		if err := json.Unmarshal(c.Payload, &fields); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	}

	fields["id"] = c.ID
	fields["expiry"] = c.ExpiresAt.Unix()

	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return b, nil
}

// validatePayload checks that a payload is an object the envelope can fold
// id and expiry into. An empty payload is normalised to {}.
func validatePayload(payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("{}"), nil
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return payload, nil
}
