package device

import (
	"regexp"
	"time"
)

// serialPattern defines the valid format for device serials:
// alphanumeric with hyphens, 4-64 characters. Serials are printed on
// the unit and keyed in during provisioning, so the format is strict.
var serialPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{4,64}$`)

// IsValidSerial checks if a device serial meets format requirements.
func IsValidSerial(serial string) bool {
	return serialPattern.MatchString(serial)
}

// Device represents one controller unit installed on a boat. The serial
// is the identity devices present on both transports; BoatID is nil for
// units provisioned but not yet assigned to a vessel.
type Device struct {
	ID        string     `json:"id"`
	Serial    string     `json:"serial"`
	BoatID    *string    `json:"boat_id,omitempty"`
	Firmware  string     `json:"firmware"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Channel represents one relay output on a device. IsOn mirrors the last
// state the device reported, not the last state anyone requested.
type Channel struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	ChNo      int       `json:"ch_no"`
	Name      string    `json:"name,omitempty"`
	IsOn      bool      `json:"is_on"`
	UpdatedAt time.Time `json:"updated_at"`
}
