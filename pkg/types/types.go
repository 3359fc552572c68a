package types

import (
	"time"
)

type Device struct {
	DeviceID    string    `json:"device_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Reading struct {
	TempC      float64   `json:"temp_c"`
	RecordedAt time.Time `json:"recorded_at"`
	ReceivedAt time.Time `json:"received_at"`
}

type TelemetryHistory struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Readings   []Reading `json:"readings"`
	Count      int       `json:"count"`
}

type AlertRule struct {
	ID        uint      `json:"id"`
	DeviceID  string    `json:"device_id"`
	TempMin   float64   `json:"temp_min"`
	TempMax   float64   `json:"temp_max"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	AlertKindLow  string = "low"
	AlertKindHigh string = "high"
)

type Alert struct {
	ID             uint       `json:"id"`
	DeviceID       string     `json:"device_id"`
	RuleID         uint       `json:"rule_id"`
	TempC          float64    `json:"temp_c"`
	Kind           string     `json:"kind"`
	Message        string     `json:"message"`
	Acknowledged   bool       `json:"acknowledged"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}
