package device

import (
	"time"
)

// Device represents one logical scanning device known to this agent.
type Device struct {
	DeviceID      string
	Credential    *string
	RegisteredAt  *time.Time
	TotalScans    int
	Unregistrable bool
	FailureReason *string
	LastSeenAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsRegistered reports whether a hub credential has been assigned.
func (d *Device) IsRegistered() bool {
	return d.Credential != nil && *d.Credential != ""
}

// Deliverable reports whether the delivery worker may attempt this
// device. A device the registry permanently rejected stays parked until
// an operator clears it.
func (d *Device) Deliverable() bool {
	return !d.Unregistrable
}
