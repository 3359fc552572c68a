package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// isUniqueViolation matches the unique index errors raised by both
// backends: sqlite says "UNIQUE constraint failed", postgres says
// "duplicate key value violates unique constraint".
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}

func (s *store) GetDevices(ctx context.Context) ([]Device, error) {
	var devices []Device

	result := s.db.WithContext(ctx).Order("created_at DESC").Find(&devices)

	return devices, result.Error
}

// GetDeviceByDeviceID looks up a device by its external id. The condition
// is a string clause on purpose: a struct condition drops zero values, so
// an empty id would match the first device in the table instead of none.
func (s *store) GetDeviceByDeviceID(ctx context.Context, deviceID string) (Device, error) {
	var device Device

	result := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		First(&device)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, result.Error
	}

	return device, nil
}

func (s *store) CreateDevice(ctx context.Context, device *Device) error {
	result := s.db.WithContext(ctx).
		Where("device_id = ?", device.DeviceID).
		First(&Device{})

	if result.Error == nil {
		return ErrDeviceAlreadyExists
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}

	err := s.db.WithContext(ctx).Create(device).Error
	// A concurrent insert can slip past the probe and land on the unique
	// index instead
	if isUniqueViolation(err) {
		return ErrDeviceAlreadyExists
	}

	return err
}

func (s *store) UpdateDevice(ctx context.Context, device *Device) error {
	return s.db.WithContext(ctx).Save(device).Error
}

// DeleteDevice removes a device together with its readings, rules and
// alerts in one transaction. The cascade is explicit and does not rely
// on the schema's foreign key declarations alone.
func (s *store) DeleteDevice(ctx context.Context, deviceID string) error {
	device, err := s.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", device.ID).Delete(&Alert{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("device_id = ?", device.ID).Delete(&AlertRule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("device_id = ?", device.ID).Delete(&Reading{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&device).Error
	})
}

// FindOrCreateDevice resolves a device by its external id, registering
// it on first sight so that telemetry from unknown devices is never lost.
// The lookup is a string clause for the same reason as GetDeviceByDeviceID.
func (s *store) FindOrCreateDevice(ctx context.Context, deviceID, name string) (Device, error) {
	var device Device

	result := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Attrs(Device{DeviceID: deviceID, Name: name, Active: true}).
		FirstOrCreate(&device)

	return device, result.Error
}

func (s *store) AddReading(ctx context.Context, reading *Reading) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(reading).Error
}

func (s *store) GetReadings(ctx context.Context, deviceID uint, since time.Time, limit int) ([]Reading, error) {
	var readings []Reading

	result := s.db.WithContext(ctx).
		Where("device_id = ? AND recorded_at >= ?", deviceID, since).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&readings)

	return readings, result.Error
}
