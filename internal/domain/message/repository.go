package message

import (
	"context"
)

// QueueStats summarizes one device's outbound queue.
type QueueStats struct {
	DeviceID  string
	Unsent    int64
	Sent      int64
	Poisoned  int64
	OldestAge int64 // seconds since the oldest unsent message was enqueued
}

// Repository defines the interface for the durable outbound queue.
// Delivery order per device equals enqueue order (ascending id).
type Repository interface {
	// Enqueue durably stores a payload for deviceID and returns the
	// stored message. It never performs network I/O.
	Enqueue(ctx context.Context, deviceID string, payload []byte) (*Message, error)

	// Unsent returns up to limit undelivered, non-poisoned messages
	// for deviceID ordered by id ascending.
	Unsent(ctx context.Context, deviceID string, limit int) ([]*Message, error)

	// MarkSent flags a message as delivered. Marking an already-sent
	// message is a no-op.
	MarkSent(ctx context.Context, id uint) error

	// RecordFailure increments the attempt counter and stores the
	// last delivery error for a message.
	RecordFailure(ctx context.Context, id uint, cause string) error

	// MarkPoisoned flags a message the hub permanently rejected so
	// the worker skips it without discarding the record.
	MarkPoisoned(ctx context.Context, id uint, cause string) error

	// DevicesWithUnsent lists device ids that currently have
	// pending messages, for the worker's drain pass.
	DevicesWithUnsent(ctx context.Context) ([]string, error)

	// Stats returns queue counters for one device.
	Stats(ctx context.Context, deviceID string) (*QueueStats, error)

	// TotalUnsent counts pending messages across all devices.
	TotalUnsent(ctx context.Context) (int64, error)
}
