package message

import (
	"time"
)

// Message is one queued outbound event. Records are retained after
// delivery for audit and replay inspection.
type Message struct {
	ID         uint
	DeviceID   string
	Payload    []byte
	EnqueuedAt time.Time
	Sent       bool
	SentAt     *time.Time
	Poisoned   bool
	Attempts   int
	LastError  *string
}

// Pending reports whether the delivery worker should still attempt this
// message.
func (m *Message) Pending() bool {
	return !m.Sent && !m.Poisoned
}
