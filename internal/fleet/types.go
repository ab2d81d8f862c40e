package fleet

import "time"

// Boat represents a vessel owned by a user. Devices are installed on
// boats; command and channel visibility is scoped per boat.
type Boat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
