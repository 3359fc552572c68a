package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *store) GetAlertRules(ctx context.Context, deviceID uint) ([]AlertRule, error) {
	var rules []AlertRule

	result := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Find(&rules)

	return rules, result.Error
}

func (s *store) GetActiveAlertRules(ctx context.Context, deviceID uint) ([]AlertRule, error) {
	var rules []AlertRule

	result := s.db.WithContext(ctx).
		Where("device_id = ? AND active = ?", deviceID, true).
		Find(&rules)

	return rules, result.Error
}

func (s *store) AddAlertRule(ctx context.Context, rule *AlertRule) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(rule).Error
}

func (s *store) DeleteAlertRule(ctx context.Context, deviceID, ruleID uint) error {
	result := s.db.WithContext(ctx).Unscoped().
		Where("id = ? AND device_id = ?", ruleID, deviceID).
		Delete(&AlertRule{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}

	return nil
}

func (s *store) AddAlert(ctx context.Context, alert *Alert) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(alert).Error
}

func (s *store) QueryAlerts(ctx context.Context, limit int, unacknowledgedOnly bool) ([]Alert, error) {
	var alerts []Alert

	query := s.db.WithContext(ctx).Preload("Device").Order("triggered_at DESC").Limit(limit)
	if unacknowledgedOnly {
		query = query.Where("acknowledged = ?", false)
	}

	result := query.Find(&alerts)

	return alerts, result.Error
}

func (s *store) GetAlertByID(ctx context.Context, alertID uint) (Alert, error) {
	var alert Alert

	result := s.db.WithContext(ctx).
		Preload("Device").
		Where("id = ?", alertID).
		First(&alert)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Alert{}, ErrAlertNotFound
		}
		return Alert{}, result.Error
	}

	return alert, nil
}

func (s *store) GetAlertsByDeviceID(ctx context.Context, deviceID uint, limit int) ([]Alert, error) {
	var alerts []Alert

	result := s.db.WithContext(ctx).
		Preload("Device").
		Where("device_id = ?", deviceID).
		Order("triggered_at DESC").
		Limit(limit).
		Find(&alerts)

	return alerts, result.Error
}

// AcknowledgeAlert flips the acknowledged flag exactly once. Acknowledging
// an already acknowledged alert returns it unchanged, preserving the
// original acknowledgement time.
func (s *store) AcknowledgeAlert(ctx context.Context, alertID uint) (Alert, error) {
	alert, err := s.GetAlertByID(ctx, alertID)
	if err != nil {
		return Alert{}, err
	}

	if alert.Acknowledged {
		return alert, nil
	}

	now := time.Now().UTC()
	alert.Acknowledged = true
	alert.AcknowledgedAt = &now

	err = s.db.WithContext(ctx).
		Model(&Alert{}).
		Where("id = ?", alert.ID).
		Updates(map[string]any{"acknowledged": true, "acknowledged_at": now}).
		Error
	if err != nil {
		return Alert{}, err
	}

	return alert, nil
}

func (s *store) AcknowledgeAllAlerts(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&Alert{}).
		Where("acknowledged = ?", false).
		Updates(map[string]any{"acknowledged": true, "acknowledged_at": time.Now().UTC()})

	return result.RowsAffected, result.Error
}

func (s *store) DeleteAcknowledgedAlerts(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("acknowledged = ?", true).
		Delete(&Alert{})

	return result.RowsAffected, result.Error
}

func (s *store) DeleteAllAlerts(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&Alert{})

	return result.RowsAffected, result.Error
}
