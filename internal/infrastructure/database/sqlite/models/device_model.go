package models

import (
	"time"
)

// DeviceModel represents the database model for devices.
type DeviceModel struct {
	DeviceID      string     `gorm:"type:varchar(255);primaryKey"`
	Credential    *string    `gorm:"type:text"`
	RegisteredAt  *time.Time `gorm:"type:timestamp"`
	TotalScans    int        `gorm:"type:integer;not null;default:0"`
	Unregistrable bool       `gorm:"not null;default:false"`
	FailureReason *string    `gorm:"type:text"`
	LastSeenAt    *time.Time `gorm:"type:timestamp"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

func (DeviceModel) TableName() string {
	return "devices"
}
