package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/ingest"
	"github.com/hatchtrack/incubator-mgmt/internal/pkg/infrastructure/logging"
)

type Config struct {
	BrokerHost string
	BrokerPort int
	Topic      string
	ClientID   string
	Username   string
	Password   string
}

// Source adapts the paho callback API to the pipeline's blocking message
// source contract. Auto reconnect is disabled on purpose; the ingestion
// pipeline owns reconnection.
type Source struct {
	cfg      Config
	client   paho.Client
	messages chan ingest.Message
	errs     chan error
}

func New(cfg Config) *Source {
	return &Source{
		cfg:      cfg,
		messages: make(chan ingest.Message, 256),
		errs:     make(chan error, 1),
	}
}

func (s *Source) Connect(ctx context.Context) error {
	logger := logging.GetLoggerFromContext(ctx)

	opts := paho.NewClientOptions().
		AddBroker(s.brokerURL()).
		SetClientID(s.cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Error().Err(err).Msg("mqtt connection lost")
		select {
		case s.errs <- err:
		default:
		}
	}

	s.client = paho.NewClient(opts)

	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("could not connect to broker %s: %w", s.brokerURL(), token.Error())
	}

	if token := s.client.Subscribe(s.cfg.Topic, 1, s.onMessage); token.Wait() && token.Error() != nil {
		s.client.Disconnect(250)
		return fmt.Errorf("could not subscribe to %s: %w", s.cfg.Topic, token.Error())
	}

	logger.Info().Msgf("subscribed to %s on %s", s.cfg.Topic, s.brokerURL())

	return nil
}

// Next blocks until a message arrives, the connection is lost, or ctx is
// cancelled.
func (s *Source) Next(ctx context.Context) (ingest.Message, error) {
	select {
	case <-ctx.Done():
		return ingest.Message{}, ctx.Err()
	case err := <-s.errs:
		return ingest.Message{}, err
	case msg := <-s.messages:
		return msg, nil
	}
}

func (s *Source) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// onMessage must never block: paho runs handlers on its own goroutines
// and Disconnect waits for them, so a stalled consumer would wedge the
// client. When the buffer is full the message is dropped.
func (s *Source) onMessage(_ paho.Client, m paho.Message) {
	select {
	case s.messages <- ingest.Message{Topic: m.Topic(), Payload: m.Payload()}:
	default:
	}
}

func (s *Source) brokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", s.cfg.BrokerHost, s.cfg.BrokerPort)
}
