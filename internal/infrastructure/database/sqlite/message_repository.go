package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainMessage "barcode-edge-agent/internal/domain/message"
	"barcode-edge-agent/internal/infrastructure/database/sqlite/models"

	"gorm.io/gorm"
)

// MessageRepository implements domain message.Repository on the embedded store.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *DB) domainMessage.Repository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Enqueue(ctx context.Context, deviceID string, payload []byte) (*domainMessage.Message, error) {
	if len(payload) == 0 {
		return nil, domainMessage.ErrEmptyPayload
	}

	dbModel := &models.MessageModel{
		DeviceID:   deviceID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := r.db.DB.WithContext(ctx).Create(dbModel).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}

	return toMessageEntity(dbModel), nil
}

func (r *MessageRepository) Unsent(ctx context.Context, deviceID string, limit int) ([]*domainMessage.Message, error) {
	var dbModels []models.MessageModel
	err := r.db.DB.WithContext(ctx).
		Where("device_id = ? AND sent = ? AND poisoned = ?", deviceID, false, false).
		Order("id ASC").
		Limit(limit).
		Find(&dbModels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unsent messages: %w", err)
	}

	messages := make([]*domainMessage.Message, len(dbModels))
	for i := range dbModels {
		messages[i] = toMessageEntity(&dbModels[i])
	}

	return messages, nil
}

// MarkSent only transitions unsent rows, so marking an already-sent
// message is a no-op rather than an error.
func (r *MessageRepository) MarkSent(ctx context.Context, id uint) error {
	now := time.Now().UTC()

	result := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]interface{}{
			"sent":    true,
			"sent_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message sent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.ensureExists(ctx, id)
	}

	return nil
}

func (r *MessageRepository) RecordFailure(ctx context.Context, id uint, cause string) error {
	result := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record delivery failure: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainMessage.ErrMessageNotFound
	}

	return nil
}

func (r *MessageRepository) MarkPoisoned(ctx context.Context, id uint, cause string) error {
	result := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"poisoned":   true,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message poisoned: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainMessage.ErrMessageNotFound
	}

	return nil
}

func (r *MessageRepository) DevicesWithUnsent(ctx context.Context) ([]string, error) {
	var deviceIDs []string
	err := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("sent = ? AND poisoned = ?", false, false).
		Distinct("device_id").
		Order("device_id ASC").
		Pluck("device_id", &deviceIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list devices with unsent messages: %w", err)
	}

	return deviceIDs, nil
}

func (r *MessageRepository) Stats(ctx context.Context, deviceID string) (*domainMessage.QueueStats, error) {
	stats := &domainMessage.QueueStats{DeviceID: deviceID}

	type row struct {
		Sent     bool
		Poisoned bool
		N        int64
	}
	var rows []row
	err := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Select("sent, poisoned, COUNT(*) AS n").
		Where("device_id = ?", deviceID).
		Group("sent, poisoned").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute queue stats: %w", err)
	}

	for _, r := range rows {
		switch {
		case r.Poisoned:
			stats.Poisoned += r.N
		case r.Sent:
			stats.Sent += r.N
		default:
			stats.Unsent += r.N
		}
	}

	if stats.Unsent > 0 {
		var oldest models.MessageModel
		err = r.db.DB.WithContext(ctx).
			Where("device_id = ? AND sent = ? AND poisoned = ?", deviceID, false, false).
			Order("id ASC").
			First(&oldest).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to find oldest unsent message: %w", err)
		}
		if err == nil {
			stats.OldestAge = int64(time.Since(oldest.EnqueuedAt).Seconds())
		}
	}

	return stats, nil
}

func (r *MessageRepository) TotalUnsent(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("sent = ? AND poisoned = ?", false, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unsent messages: %w", err)
	}

	return count, nil
}

func (r *MessageRepository) ensureExists(ctx context.Context, id uint) error {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to look up message: %w", err)
	}
	if count == 0 {
		return domainMessage.ErrMessageNotFound
	}

	return nil
}

func toMessageEntity(m *models.MessageModel) *domainMessage.Message {
	return &domainMessage.Message{
		ID:         m.ID,
		DeviceID:   m.DeviceID,
		Payload:    m.Payload,
		EnqueuedAt: m.EnqueuedAt,
		Sent:       m.Sent,
		SentAt:     m.SentAt,
		Poisoned:   m.Poisoned,
		Attempts:   m.Attempts,
		LastError:  m.LastError,
	}
}
