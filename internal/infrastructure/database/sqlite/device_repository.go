package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domainDevice "barcode-edge-agent/internal/domain/device"
	"barcode-edge-agent/internal/infrastructure/database/sqlite/models"

	"gorm.io/gorm"
)

// DeviceRepository implements domain device.Repository on the embedded store.
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository creates a new device repository.
func NewDeviceRepository(db *DB) domainDevice.Repository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) GetOrCreate(ctx context.Context, deviceID string) (*domainDevice.Device, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, domainDevice.ErrInvalidDeviceID
	}

	existing, err := r.Get(ctx, deviceID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domainDevice.ErrDeviceNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	dbModel := &models.DeviceModel{
		DeviceID:  deviceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.DB.WithContext(ctx).Create(dbModel).Error; err != nil {
		// A concurrent caller may have created the row between the
		// lookup and the insert; re-read in that case.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return r.Get(ctx, deviceID)
		}
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	return toDeviceEntity(dbModel), nil
}

func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*domainDevice.Device, error) {
	var dbModel models.DeviceModel
	err := r.db.DB.WithContext(ctx).
		Where("device_id = ?", deviceID).
		First(&dbModel).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainDevice.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return toDeviceEntity(&dbModel), nil
}

// SetCredential writes the credential only if none is stored yet and
// returns whichever credential survived, so racing registrations all
// converge on a single value.
func (r *DeviceRepository) SetCredential(ctx context.Context, deviceID, credential string) (string, error) {
	now := time.Now().UTC()

	result := r.db.DB.WithContext(ctx).
		Model(&models.DeviceModel{}).
		Where("device_id = ? AND (credential IS NULL OR credential = '')", deviceID).
		Updates(map[string]interface{}{
			"credential":    credential,
			"registered_at": now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return "", fmt.Errorf("failed to set credential: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return credential, nil
	}

	stored, err := r.Get(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if !stored.IsRegistered() {
		return "", domainDevice.ErrDeviceNotFound
	}

	return *stored.Credential, nil
}

func (r *DeviceRepository) OverwriteCredential(ctx context.Context, deviceID, credential string) error {
	now := time.Now().UTC()

	result := r.db.DB.WithContext(ctx).
		Model(&models.DeviceModel{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"credential":    credential,
			"registered_at": now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to overwrite credential: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainDevice.ErrDeviceNotFound
	}

	return nil
}

func (r *DeviceRepository) MarkUnregistrable(ctx context.Context, deviceID, reason string) error {
	result := r.db.DB.WithContext(ctx).
		Model(&models.DeviceModel{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"unregistrable":  true,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark device unregistrable: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainDevice.ErrDeviceNotFound
	}

	return nil
}

func (r *DeviceRepository) ClearUnregistrable(ctx context.Context, deviceID string) error {
	result := r.db.DB.WithContext(ctx).
		Model(&models.DeviceModel{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"unregistrable":  false,
			"failure_reason": nil,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to clear device failure: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainDevice.ErrDeviceNotFound
	}

	return nil
}

func (r *DeviceRepository) IncrementScanCount(ctx context.Context, deviceID string, delta int) error {
	result := r.db.DB.WithContext(ctx).
		Model(&models.DeviceModel{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"total_scans": gorm.Expr("total_scans + ?", delta),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to increment scan count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainDevice.ErrDeviceNotFound
	}

	return nil
}

func (r *DeviceRepository) TouchLastSeen(ctx context.Context, deviceID string) error {
	now := time.Now().UTC()

	result := r.db.DB.WithContext(ctx).
		Model(&models.DeviceModel{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"last_seen_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch last seen: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainDevice.ErrDeviceNotFound
	}

	return nil
}

func toDeviceEntity(m *models.DeviceModel) *domainDevice.Device {
	return &domainDevice.Device{
		DeviceID:      m.DeviceID,
		Credential:    m.Credential,
		RegisteredAt:  m.RegisteredAt,
		TotalScans:    m.TotalScans,
		Unregistrable: m.Unregistrable,
		FailureReason: m.FailureReason,
		LastSeenAt:    m.LastSeenAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
