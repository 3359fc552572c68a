package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/alerts"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/broadcast"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/logging"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

// Message is one inbound transport message.
type Message struct {
	Topic   string
	Payload []byte
}

// MessageSource abstracts the transport client behind a blocking next
// message operation so the pipeline owns its own reconnect loop instead
// of being driven by a client library's callbacks.
type MessageSource interface {
	Connect(ctx context.Context) error
	Next(ctx context.Context) (Message, error)
	Close()
}

type Pipeline interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

type Config struct {
	TopicNamespace    string
	TopicSuffix       string
	ReconnectInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		TopicNamespace:    "egg",
		TopicSuffix:       "telemetry",
		ReconnectInterval: 5 * time.Second,
	}
}

type pipeline struct {
	source   MessageSource
	storage  database.Store
	registry *broadcast.Registry
	cfg      Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(source MessageSource, storage database.Store, registry *broadcast.Registry, cfg Config) Pipeline {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}

	return &pipeline{
		source:   source,
		storage:  storage,
		registry: registry,
		cfg:      cfg,
	}
}

// Start launches the ingestion loop. Calling Start on a running pipeline
// is a no-op.
func (p *pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx, p.done)

	logger := logging.GetLoggerFromContext(ctx)
	logger.Info().Msg("ingestion pipeline started")
}

// Stop cancels the ingestion loop and waits for the in-flight message to
// drain, bounded by ctx. Stopping an already stopped pipeline is a no-op.
func (p *pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run maintains the subscription for the lifetime of the pipeline. Any
// transport failure is logged and retried after a fixed delay; only
// cancellation terminates the loop.
func (p *pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	logger := logging.GetLoggerFromContext(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		err := p.source.Connect(ctx)
		if err != nil {
			logger.Error().Err(err).Msgf("transport connect failed, retrying in %s", p.cfg.ReconnectInterval)
			if !sleep(ctx, p.cfg.ReconnectInterval) {
				return
			}
			continue
		}

		logger.Info().Msg("subscribed to telemetry topics")

		err = p.consume(ctx)
		p.source.Close()

		if ctx.Err() != nil {
			return
		}

		logger.Error().Err(err).Msgf("transport connection lost, reconnecting in %s", p.cfg.ReconnectInterval)
		if !sleep(ctx, p.cfg.ReconnectInterval) {
			return
		}
	}
}

func (p *pipeline) consume(ctx context.Context) error {
	logger := logging.GetLoggerFromContext(ctx)

	for {
		msg, err := p.source.Next(ctx)
		if err != nil {
			return err
		}

		// A bad message is logged and dropped; it never takes the
		// subscription down with it.
		if err := p.handleMessage(ctx, msg); err != nil {
			logger.Warn().Err(err).Str("topic", msg.Topic).Msg("dropping message")
		}
	}
}

type telemetryPayload struct {
	DeviceID *string  `json:"device_id"`
	TS       *string  `json:"ts"`
	TempC    *float64 `json:"temp_c"`
}

func (p *pipeline) handleMessage(ctx context.Context, msg Message) error {
	logger := logging.GetLoggerFromContext(ctx)

	deviceID, err := p.parseTopic(msg.Topic)
	if err != nil {
		return err
	}

	var payload telemetryPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if payload.TempC == nil {
		return fmt.Errorf("payload is missing required field temp_c")
	}

	if payload.DeviceID != nil && *payload.DeviceID != "" {
		deviceID = *payload.DeviceID
	}

	now := time.Now().UTC()
	recordedAt := now
	if payload.TS != nil {
		if ts, err := time.Parse(time.RFC3339, *payload.TS); err == nil {
			recordedAt = ts.UTC()
		} else {
			logger.Warn().Str("ts", *payload.TS).Msg("unparsable timestamp, falling back to server time")
		}
	}

	tempC := *payload.TempC

	device, err := p.storage.FindOrCreateDevice(ctx, deviceID, fmt.Sprintf("Auto-registered: %s", deviceID))
	if err != nil {
		return fmt.Errorf("could not resolve device %s: %w", deviceID, err)
	}

	reading := database.Reading{
		DeviceID:   device.ID,
		TempC:      tempC,
		RecordedAt: recordedAt,
		ReceivedAt: now,
	}

	err = p.storage.AddReading(ctx, &reading)
	if err != nil {
		return fmt.Errorf("could not persist reading for %s: %w", deviceID, err)
	}

	logger.Debug().Str("device_id", deviceID).Float64("temp_c", tempC).Msg("reading persisted")

	// Broadcast strictly after persistence so viewers never observe
	// readings that did not make it to storage.
	p.broadcast(device.DeviceID, types.Event{
		Type:     types.EventTypeTelemetry,
		DeviceID: device.DeviceID,
		Data: map[string]any{
			"temp_c":      tempC,
			"recorded_at": recordedAt.Format(time.RFC3339Nano),
		},
	})

	p.evaluateRules(ctx, device, tempC, recordedAt)

	return nil
}

func (p *pipeline) evaluateRules(ctx context.Context, device database.Device, tempC float64, at time.Time) {
	logger := logging.GetLoggerFromContext(ctx)

	rules, err := p.storage.GetActiveAlertRules(ctx, device.ID)
	if err != nil {
		logger.Error().Err(err).Str("device_id", device.DeviceID).Msg("could not fetch alert rules")
		return
	}

	for _, alert := range alerts.Evaluate(device, rules, tempC, at) {
		alert := alert

		err := p.storage.AddAlert(ctx, &alert)
		if err != nil {
			logger.Error().Err(err).Str("device_id", device.DeviceID).Msg("could not persist alert")
			continue
		}

		logger.Warn().Str("device_id", device.DeviceID).Msgf("alert triggered: %s", alert.Message)

		p.broadcast(device.DeviceID, types.Event{
			Type:     types.EventTypeAlert,
			DeviceID: device.DeviceID,
			Data: map[string]any{
				"alert_type": alert.Kind,
				"temp_c":     alert.TempC,
				"message":    alert.Message,
			},
		})
	}
}

// broadcast delivers an event to the device channel and the wildcard
// channel watched by viewers of all devices.
func (p *pipeline) broadcast(deviceID string, event types.Event) {
	p.registry.Broadcast(deviceID, event)
	p.registry.Broadcast(broadcast.ChannelAll, event)
}

func (p *pipeline) parseTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != p.cfg.TopicNamespace || parts[2] != p.cfg.TopicSuffix {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}

	// The broker's + wildcard matches an empty level, so egg//telemetry
	// arrives here with no device segment
	if parts[1] == "" {
		return "", fmt.Errorf("empty device segment in topic: %s", topic)
	}

	return parts[1], nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
