package device

import (
	"context"
)

// Repository defines the interface for device persistence.
type Repository interface {
	// GetOrCreate returns the record for deviceID, creating an
	// unregistered one on first sight.
	GetOrCreate(ctx context.Context, deviceID string) (*Device, error)

	// Get returns the record for deviceID or ErrDeviceNotFound.
	Get(ctx context.Context, deviceID string) (*Device, error)

	// SetCredential assigns a credential with compare-and-set
	// semantics: it only writes if no credential is stored yet, and
	// always returns the credential that survived, so racing callers
	// all observe the same value.
	SetCredential(ctx context.Context, deviceID, credential string) (string, error)

	// OverwriteCredential unconditionally replaces the stored
	// credential. Reserved for explicit forced re-registration.
	OverwriteCredential(ctx context.Context, deviceID, credential string) error

	// MarkUnregistrable parks a device the registry permanently
	// rejected. Queued messages are retained.
	MarkUnregistrable(ctx context.Context, deviceID, reason string) error

	// ClearUnregistrable is the operator action that re-enables
	// delivery attempts for a parked device.
	ClearUnregistrable(ctx context.Context, deviceID string) error

	// IncrementScanCount bumps the device's business counter.
	IncrementScanCount(ctx context.Context, deviceID string, delta int) error

	// TouchLastSeen records local activity for the device.
	TouchLastSeen(ctx context.Context, deviceID string) error
}
