package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultPublishTimeout    = 10 * time.Second
	defaultDisconnectQuiesce = 250
)

// MQTTConfig holds the broker connection settings
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTConfigFromSettings maps the mqtt settings section
func MQTTConfigFromSettings(s *conf.MQTTSettings) MQTTConfig {
	return MQTTConfig{
		Broker:         s.Broker,
		ClientID:       s.ClientID,
		Username:       s.Username,
		Password:       s.Password,
		Topic:          s.Topic,
		Retain:         s.Retain,
		ConnectTimeout: defaultConnectTimeout,
		PublishTimeout: defaultPublishTimeout,
	}
}

// mqttClient is the subset of mqtt.Client the publisher uses
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTPublisher is a Consumer that publishes model events as JSON. Model updates go to
// <topic>; training failures go to <topic>/errors and are never retained.
type MQTTPublisher struct {
	config MQTTConfig
	mu     sync.Mutex
	client mqttClient
	log    logger.Logger
}

// NewMQTTPublisher creates a publisher. Call Connect before registering it with a Bus.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	return &MQTTPublisher{config: cfg, log: GetLogger().Module("mqtt")}
}

// Name implements Consumer
func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

// Connect resolves the broker host and connects. The paho client reconnects on its own
// after a lost connection.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	u, err := url.Parse(p.config.Broker)
	if err != nil {
		return integrationError(fmt.Errorf("invalid broker URL: %w", err), "parse_broker")
	}

	host := u.Hostname()
	if host == "" {
		return integrationError(fmt.Errorf("broker URL %q has no host", p.config.Broker), "parse_broker")
	}
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return integrationError(fmt.Errorf("failed to resolve hostname %s: %w", host, err), "resolve_broker")
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info("connected to MQTT broker", logger.String("broker", p.config.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn("connection to MQTT broker lost", logger.String("broker", p.config.Broker), logger.Error(err))
	})

	return p.connectWith(mqtt.NewClient(opts))
}

func (p *MQTTPublisher) connectWith(c mqttClient) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	token := c.Connect()
	if !token.WaitTimeout(p.config.ConnectTimeout) {
		return integrationError(fmt.Errorf("connection timeout"), "connect")
	}
	if err := token.Error(); err != nil {
		return integrationError(fmt.Errorf("connection error: %w", err), "connect")
	}
	p.client = c
	return nil
}

// ProcessEvent implements Consumer
func (p *MQTTPublisher) ProcessEvent(event ModelEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	topic := p.config.Topic
	retain := p.config.Retain
	if event.Kind == KindTrainingFailed {
		topic += "/errors"
		retain = false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return integrationError(fmt.Errorf("not connected to MQTT broker"), "publish")
	}

	token := p.client.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(p.config.PublishTimeout) {
		return integrationError(fmt.Errorf("publish timeout"), "publish")
	}
	if err := token.Error(); err != nil {
		return integrationError(err, "publish")
	}
	p.log.Debug("model event published",
		logger.String("topic", topic),
		logger.String("kind", string(event.Kind)),
		logger.Uint64("version", event.Version))
	return nil
}

// Disconnect closes the broker connection
func (p *MQTTPublisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(defaultDisconnectQuiesce)
	}
}

func integrationError(err error, op string) error {
	return errors.New(err).
		Component("events").
		Category(errors.CategoryIntegration).
		Context("operation", op).
		Build()
}

var _ Consumer = (*MQTTPublisher)(nil)
