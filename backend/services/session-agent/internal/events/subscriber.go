package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargelog/backend/services/session-agent/internal/models"
)

// StateTopic matches the IEC 61851 state of every charging controller.
const StateTopic = "charging_controllers/+/data/iec_61851_state"

var errBadTopic = errors.New("events: unexpected topic")

// Sink accepts parsed events.
type Sink interface {
	Submit(ev models.Event) error
}

// Options configures the MQTT connection.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// Subscriber delivers connection-state messages from the broker to a Sink.
type Subscriber struct {
	opts   Options
	sink   Sink
	logger *zap.Logger
	client mqtt.Client
	now    func() time.Time
}

// NewSubscriber builds subscriber; call Start to connect.
func NewSubscriber(opts Options, sink Sink, logger *zap.Logger) *Subscriber {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = "session-agent-" + uuid.NewString()[:8]
	}
	return &Subscriber{
		opts:   opts,
		sink:   sink,
		logger: logger.Named("mqtt"),
		now:    time.Now,
	}
}

// Start connects to the broker. The subscription is (re)established on every connect.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(s.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetCleanSession(false).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("broker connection lost", zap.Error(err))
		})
	if s.opts.Username != "" {
		opts.SetUsername(s.opts.Username)
		opts.SetPassword(s.opts.Password)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("events: connect %s: %w", s.opts.Broker, err)
		}
	case <-time.After(s.opts.ConnectTimeout):
		s.logger.Warn("broker not reachable yet, retrying in background", zap.String("broker", s.opts.Broker))
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	s.logger.Info("connected to broker", zap.String("broker", s.opts.Broker))
	token := client.Subscribe(StateTopic, s.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(msg.Topic(), msg.Payload())
	})
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("subscribe failed", zap.String("topic", StateTopic), zap.Error(err))
			return
		}
		s.logger.Info("subscribed", zap.String("topic", StateTopic))
	}()
}

func (s *Subscriber) handle(topic string, payload []byte) {
	deviceUID, err := ParseTopic(topic)
	if err != nil {
		s.logger.Warn("ignoring message", zap.String("topic", topic), zap.Error(err))
		return
	}
	ev := models.Event{
		ID:         uuid.NewString(),
		DeviceUID:  deviceUID,
		RawState:   strings.TrimSpace(string(payload)),
		ReceivedAt: s.now().UTC(),
	}
	s.logger.Debug("state message received",
		zap.String("event_id", ev.ID),
		zap.String("device_uid", ev.DeviceUID),
		zap.String("raw_state", ev.RawState),
	)
	if err := s.sink.Submit(ev); err != nil {
		s.logger.Warn("event not dispatched", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

// ParseTopic extracts the device uid from charging_controllers/{uid}/data/iec_61851_state.
func ParseTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "charging_controllers" || parts[2] != "data" || parts[3] != "iec_61851_state" {
		return "", fmt.Errorf("%w: %q", errBadTopic, topic)
	}
	if parts[1] == "" {
		return "", fmt.Errorf("%w: empty device uid", errBadTopic)
	}
	return parts[1], nil
}
