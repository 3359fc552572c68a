package alerts

import (
	"context"
	"fmt"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

var ErrInvalidRange = fmt.Errorf("temp_min must be less than temp_max")

const (
	DefaultTempMin float64 = 35.0
	DefaultTempMax float64 = 39.0
)

type AlertService interface {
	GetAlerts(ctx context.Context, limit int, unacknowledgedOnly bool) ([]types.Alert, error)
	GetAlertByID(ctx context.Context, alertID uint) (types.Alert, error)
	GetAlertsByDeviceID(ctx context.Context, deviceID string, limit int) ([]types.Alert, error)
	Acknowledge(ctx context.Context, alertID uint) (types.Alert, error)
	AcknowledgeAll(ctx context.Context) (int64, error)
	ClearAcknowledged(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)

	GetRules(ctx context.Context, deviceID string) ([]types.AlertRule, error)
	CreateRule(ctx context.Context, deviceID string, rule types.AlertRule) (types.AlertRule, error)
	DeleteRule(ctx context.Context, deviceID string, ruleID uint) error
}

type alertSvc struct {
	storage database.Store
}

func New(s database.Store) AlertService {
	return &alertSvc{
		storage: s,
	}
}

func (svc *alertSvc) GetAlerts(ctx context.Context, limit int, unacknowledgedOnly bool) ([]types.Alert, error) {
	alerts, err := svc.storage.QueryAlerts(ctx, limit, unacknowledgedOnly)
	if err != nil {
		return nil, err
	}

	return mapAlerts(alerts), nil
}

func (svc *alertSvc) GetAlertByID(ctx context.Context, alertID uint) (types.Alert, error) {
	alert, err := svc.storage.GetAlertByID(ctx, alertID)
	if err != nil {
		return types.Alert{}, err
	}

	return mapAlert(alert), nil
}

func (svc *alertSvc) GetAlertsByDeviceID(ctx context.Context, deviceID string, limit int) ([]types.Alert, error) {
	device, err := svc.storage.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	alerts, err := svc.storage.GetAlertsByDeviceID(ctx, device.ID, limit)
	if err != nil {
		return nil, err
	}

	return mapAlerts(alerts), nil
}

func (svc *alertSvc) Acknowledge(ctx context.Context, alertID uint) (types.Alert, error) {
	alert, err := svc.storage.AcknowledgeAlert(ctx, alertID)
	if err != nil {
		return types.Alert{}, err
	}

	return mapAlert(alert), nil
}

func (svc *alertSvc) AcknowledgeAll(ctx context.Context) (int64, error) {
	return svc.storage.AcknowledgeAllAlerts(ctx)
}

func (svc *alertSvc) ClearAcknowledged(ctx context.Context) (int64, error) {
	return svc.storage.DeleteAcknowledgedAlerts(ctx)
}

func (svc *alertSvc) DeleteAll(ctx context.Context) (int64, error) {
	return svc.storage.DeleteAllAlerts(ctx)
}

func (svc *alertSvc) GetRules(ctx context.Context, deviceID string) ([]types.AlertRule, error) {
	device, err := svc.storage.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	rules, err := svc.storage.GetAlertRules(ctx, device.ID)
	if err != nil {
		return nil, err
	}

	mapped := make([]types.AlertRule, 0, len(rules))
	for _, r := range rules {
		mapped = append(mapped, mapRule(deviceID, r))
	}

	return mapped, nil
}

func (svc *alertSvc) CreateRule(ctx context.Context, deviceID string, rule types.AlertRule) (types.AlertRule, error) {
	if rule.TempMin >= rule.TempMax {
		return types.AlertRule{}, ErrInvalidRange
	}

	device, err := svc.storage.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return types.AlertRule{}, err
	}

	r := database.AlertRule{
		DeviceID: device.ID,
		TempMin:  rule.TempMin,
		TempMax:  rule.TempMax,
		Active:   rule.Active,
	}

	err = svc.storage.AddAlertRule(ctx, &r)
	if err != nil {
		return types.AlertRule{}, err
	}

	return mapRule(deviceID, r), nil
}

func (svc *alertSvc) DeleteRule(ctx context.Context, deviceID string, ruleID uint) error {
	device, err := svc.storage.GetDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}

	return svc.storage.DeleteAlertRule(ctx, device.ID, ruleID)
}

func mapAlert(a database.Alert) types.Alert {
	return types.Alert{
		ID:             a.ID,
		DeviceID:       a.Device.DeviceID,
		RuleID:         a.RuleID,
		TempC:          a.TempC,
		Kind:           a.Kind,
		Message:        a.Message,
		Acknowledged:   a.Acknowledged,
		TriggeredAt:    a.TriggeredAt,
		AcknowledgedAt: a.AcknowledgedAt,
	}
}

func mapAlerts(alerts []database.Alert) []types.Alert {
	mapped := make([]types.Alert, 0, len(alerts))
	for _, a := range alerts {
		mapped = append(mapped, mapAlert(a))
	}
	return mapped
}

func mapRule(deviceID string, r database.AlertRule) types.AlertRule {
	return types.AlertRule{
		ID:        r.ID,
		DeviceID:  deviceID,
		TempMin:   r.TempMin,
		TempMax:   r.TempMax,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}
