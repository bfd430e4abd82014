package registration

import (
	"context"
	"errors"
	"sync"

	"barcode-edge-agent/internal/domain/device"
	"barcode-edge-agent/internal/logger"
	pkgerrors "barcode-edge-agent/pkg/errors"

	"go.uber.org/zap"
)

// Service implements idempotent device registration: a credential is
// fetched or created remotely at most once and then served from the
// local store.
type Service struct {
	devices  device.Repository
	registry RegistryClient

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(devices device.Repository, registry RegistryClient) *Service {
	return &Service{
		devices:  devices,
		registry: registry,
		locks:    make(map[string]*sync.Mutex),
	}
}

// EnsureRegistered returns the device's credential, registering it with
// the remote registry on first use. The common path — credential already
// cached locally — makes no network call.
func (s *Service) EnsureRegistered(ctx context.Context, deviceID string) (string, error) {
	record, err := s.devices.GetOrCreate(ctx, deviceID)
	if err != nil {
		return "", pkgerrors.Fatal("device lookup failed", err)
	}
	if record.Unregistrable {
		return "", pkgerrors.PermanentDevice("device is parked as unregistrable", device.ErrDeviceUnregistrable)
	}
	if record.IsRegistered() {
		return *record.Credential, nil
	}

	// One registration flight per device; concurrent callers for the
	// same id wait instead of issuing duplicate remote calls.
	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	record, err = s.devices.Get(ctx, deviceID)
	if err != nil {
		return "", pkgerrors.Fatal("device lookup failed", err)
	}
	if record.IsRegistered() {
		return *record.Credential, nil
	}

	credential, err := s.getOrCreateRemote(ctx, deviceID)
	if err != nil {
		return "", err
	}

	// Compare-and-set: if another path persisted a credential first,
	// theirs survives and everyone observes it.
	stored, err := s.devices.SetCredential(ctx, deviceID, credential)
	if err != nil {
		return "", pkgerrors.Fatal("credential persist failed", err)
	}

	logger.Info("Device registered",
		zap.String("device_id", deviceID),
	)

	return stored, nil
}

// ForceReregister is the explicit operator operation that rotates the
// remote identity and overwrites the stored credential. Normal
// registration never does this.
func (s *Service) ForceReregister(ctx context.Context, deviceID string) (string, error) {
	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.devices.GetOrCreate(ctx, deviceID); err != nil {
		return "", pkgerrors.Fatal("device lookup failed", err)
	}

	credential, err := s.registry.RotateIdentity(ctx, deviceID)
	if errors.Is(err, ErrIdentityNotFound) {
		credential, err = s.registry.CreateIdentity(ctx, deviceID)
	}
	if err != nil {
		return "", err
	}

	if err := s.devices.OverwriteCredential(ctx, deviceID, credential); err != nil {
		return "", pkgerrors.Fatal("credential overwrite failed", err)
	}
	if err := s.devices.ClearUnregistrable(ctx, deviceID); err != nil {
		return "", pkgerrors.Fatal("failed to clear device failure state", err)
	}

	logger.Info("Device re-registered by operator",
		zap.String("device_id", deviceID),
	)

	return credential, nil
}

// getOrCreateRemote fetches the remote identity, creating it when
// absent. A create that loses a race against another registrar reports
// ErrIdentityExists and falls back to a fetch.
func (s *Service) getOrCreateRemote(ctx context.Context, deviceID string) (string, error) {
	credential, err := s.registry.GetIdentity(ctx, deviceID)
	if err == nil {
		return credential, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return "", err
	}

	credential, err = s.registry.CreateIdentity(ctx, deviceID)
	if err == nil {
		return credential, nil
	}
	if errors.Is(err, ErrIdentityExists) {
		return s.registry.GetIdentity(ctx, deviceID)
	}

	return "", err
}

func (s *Service) deviceLock(deviceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[deviceID] = lock
	}

	return lock
}
