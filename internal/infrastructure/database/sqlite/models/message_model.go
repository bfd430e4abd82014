package models

import (
	"time"
)

// MessageModel represents the database model for the outbound queue.
type MessageModel struct {
	ID         uint       `gorm:"primaryKey;autoIncrement"`
	DeviceID   string     `gorm:"type:varchar(255);not null;index:idx_messages_device_pending"`
	Payload    []byte     `gorm:"type:blob;not null"`
	EnqueuedAt time.Time  `gorm:"not null"`
	Sent       bool       `gorm:"not null;default:false;index:idx_messages_device_pending"`
	SentAt     *time.Time `gorm:"type:timestamp"`
	Poisoned   bool       `gorm:"not null;default:false"`
	Attempts   int        `gorm:"type:integer;not null;default:0"`
	LastError  *string    `gorm:"type:text"`
}

func (MessageModel) TableName() string {
	return "messages"
}
