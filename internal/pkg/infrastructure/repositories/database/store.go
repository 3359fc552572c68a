package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrDeviceAlreadyExists = fmt.Errorf("device already exists")
var ErrRuleNotFound = fmt.Errorf("alert rule not found")
var ErrAlertNotFound = fmt.Errorf("alert not found")

type Store interface {
	GetDevices(ctx context.Context) ([]Device, error)
	GetDeviceByDeviceID(ctx context.Context, deviceID string) (Device, error)
	CreateDevice(ctx context.Context, device *Device) error
	UpdateDevice(ctx context.Context, device *Device) error
	DeleteDevice(ctx context.Context, deviceID string) error
	FindOrCreateDevice(ctx context.Context, deviceID, name string) (Device, error)

	AddReading(ctx context.Context, reading *Reading) error
	GetReadings(ctx context.Context, deviceID uint, since time.Time, limit int) ([]Reading, error)

	GetAlertRules(ctx context.Context, deviceID uint) ([]AlertRule, error)
	GetActiveAlertRules(ctx context.Context, deviceID uint) ([]AlertRule, error)
	AddAlertRule(ctx context.Context, rule *AlertRule) error
	DeleteAlertRule(ctx context.Context, deviceID, ruleID uint) error

	AddAlert(ctx context.Context, alert *Alert) error
	QueryAlerts(ctx context.Context, limit int, unacknowledgedOnly bool) ([]Alert, error)
	GetAlertByID(ctx context.Context, alertID uint) (Alert, error)
	GetAlertsByDeviceID(ctx context.Context, deviceID uint, limit int) ([]Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID uint) (Alert, error)
	AcknowledgeAllAlerts(ctx context.Context) (int64, error)
	DeleteAcknowledgedAlerts(ctx context.Context) (int64, error)
	DeleteAllAlerts(ctx context.Context) (int64, error)
}

type store struct {
	db *gorm.DB
}

func New(connect ConnectorFunc) (Store, error) {
	impl, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&Device{}, &Reading{}, &AlertRule{}, &Alert{})
	if err != nil {
		return nil, err
	}

	return &store{
		db: impl,
	}, nil
}
