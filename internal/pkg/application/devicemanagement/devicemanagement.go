package devicemanagement

import (
	"context"
	"time"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

type DeviceUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

type DeviceManagement interface {
	GetDevices(ctx context.Context) ([]types.Device, error)
	GetDeviceByDeviceID(ctx context.Context, deviceID string) (types.Device, error)
	CreateDevice(ctx context.Context, device types.Device) (types.Device, error)
	UpdateDevice(ctx context.Context, deviceID string, update DeviceUpdate) (types.Device, error)
	DeleteDevice(ctx context.Context, deviceID string) error

	GetTelemetry(ctx context.Context, deviceID string, hours, limit int) (types.TelemetryHistory, error)
}

type service struct {
	storage database.Store
}

func New(s database.Store) DeviceManagement {
	return &service{
		storage: s,
	}
}

func (svc *service) GetDevices(ctx context.Context) ([]types.Device, error) {
	devices, err := svc.storage.GetDevices(ctx)
	if err != nil {
		return nil, err
	}

	mapped := make([]types.Device, 0, len(devices))
	for _, d := range devices {
		mapped = append(mapped, mapDevice(d))
	}

	return mapped, nil
}

func (svc *service) GetDeviceByDeviceID(ctx context.Context, deviceID string) (types.Device, error) {
	device, err := svc.storage.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return types.Device{}, err
	}

	return mapDevice(device), nil
}

func (svc *service) CreateDevice(ctx context.Context, device types.Device) (types.Device, error) {
	d := database.Device{
		DeviceID:    device.DeviceID,
		Name:        device.Name,
		Description: device.Description,
		Active:      true,
	}

	err := svc.storage.CreateDevice(ctx, &d)
	if err != nil {
		return types.Device{}, err
	}

	return mapDevice(d), nil
}

func (svc *service) UpdateDevice(ctx context.Context, deviceID string, update DeviceUpdate) (types.Device, error) {
	device, err := svc.storage.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return types.Device{}, err
	}

	if update.Name != nil {
		device.Name = *update.Name
	}
	if update.Description != nil {
		device.Description = *update.Description
	}
	if update.Active != nil {
		device.Active = *update.Active
	}

	err = svc.storage.UpdateDevice(ctx, &device)
	if err != nil {
		return types.Device{}, err
	}

	return mapDevice(device), nil
}

func (svc *service) DeleteDevice(ctx context.Context, deviceID string) error {
	return svc.storage.DeleteDevice(ctx, deviceID)
}

func (svc *service) GetTelemetry(ctx context.Context, deviceID string, hours, limit int) (types.TelemetryHistory, error) {
	device, err := svc.storage.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return types.TelemetryHistory{}, err
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	readings, err := svc.storage.GetReadings(ctx, device.ID, since, limit)
	if err != nil {
		return types.TelemetryHistory{}, err
	}

	mapped := make([]types.Reading, 0, len(readings))
	for _, r := range readings {
		mapped = append(mapped, types.Reading{
			TempC:      r.TempC,
			RecordedAt: r.RecordedAt,
			ReceivedAt: r.ReceivedAt,
		})
	}

	return types.TelemetryHistory{
		DeviceID:   device.DeviceID,
		DeviceName: device.Name,
		Readings:   mapped,
		Count:      len(mapped),
	}, nil
}

func mapDevice(d database.Device) types.Device {
	return types.Device{
		DeviceID:    d.DeviceID,
		Name:        d.Name,
		Description: d.Description,
		Active:      d.Active,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
