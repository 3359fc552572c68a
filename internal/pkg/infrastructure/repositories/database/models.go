package database

import (
	"time"

	"gorm.io/gorm"
)

type Device struct {
	gorm.Model
	DeviceID    string `gorm:"unique;column:device_id;<-:create"`
	Name        string
	Description string
	Active      bool
}

// Reading is an append-only temperature sample. RecordedAt is producer
// event time, ReceivedAt is server ingestion time.
type Reading struct {
	ID         uint    `gorm:"primaryKey"`
	DeviceID   uint    `gorm:"index;not null"`
	Device     Device  `gorm:"constraint:OnDelete:CASCADE"`
	TempC      float64 `gorm:"not null"`
	RecordedAt time.Time `gorm:"index;not null"`
	ReceivedAt time.Time
}

type AlertRule struct {
	gorm.Model
	DeviceID uint    `gorm:"index;not null"`
	Device   Device  `gorm:"constraint:OnDelete:CASCADE"`
	TempMin  float64 `gorm:"not null"`
	TempMax  float64 `gorm:"not null"`
	Active   bool
}

type Alert struct {
	ID             uint      `gorm:"primaryKey"`
	DeviceID       uint      `gorm:"index;not null"`
	Device         Device    `gorm:"constraint:OnDelete:CASCADE"`
	RuleID         uint      `gorm:"not null"`
	Rule           AlertRule `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
	TempC          float64   `gorm:"not null"`
	Kind           string    `gorm:"size:20;not null"`
	Message        string
	Acknowledged   bool `gorm:"index"`
	TriggeredAt    time.Time
	AcknowledgedAt *time.Time
}
