package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // may contain {device_id}
	DeviceID string
}

// Publisher is the part of mqtt.Client the indicator uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(cfg MQTTConfig, logger logrus.FieldLogger) (mqtt.Client, error) {
	log := logger.WithField("component", "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	return client, nil
}

// FormatTopic replaces the {device_id} placeholder.
func FormatTopic(pattern, deviceID string) string {
	return strings.ReplaceAll(pattern, "{device_id}", deviceID)
}

// Message is the retained payload published on every pattern change.
type Message struct {
	Device  string `json:"device"`
	Pattern string `json:"pattern"`
	TS      string `json:"ts"`
}

// MQTT publishes pattern changes from a background goroutine so Set never
// waits on the broker. Only the newest pending change is kept.
type MQTT struct {
	pub     Publisher
	topic   string
	device  string
	timeout time.Duration
	log     logrus.FieldLogger

	pending chan Pattern
}

// NewMQTT publishes to cfg.Topic through pub. Call Run to start publishing.
func NewMQTT(pub Publisher, cfg MQTTConfig, logger logrus.FieldLogger) *MQTT {
	return &MQTT{
		pub:     pub,
		topic:   FormatTopic(cfg.Topic, cfg.DeviceID),
		device:  cfg.DeviceID,
		timeout: 5 * time.Second,
		log:     logger.WithField("component", "mqtt"),
		pending: make(chan Pattern, 1),
	}
}

// Topic is the resolved topic name.
func (m *MQTT) Topic() string { return m.topic }

func (m *MQTT) Set(p Pattern) {
	for {
		select {
		case m.pending <- p:
			return
		default:
		}
		// Replace a stale pattern nobody published yet.
		select {
		case <-m.pending:
		default:
		}
	}
}

// Run publishes queued patterns until ctx is cancelled.
func (m *MQTT) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-m.pending:
			if err := m.publish(p); err != nil {
				m.log.WithError(err).WithField("pattern", p.String()).Warn("publish failed")
			}
		}
	}
}

func (m *MQTT) publish(p Pattern) error {
	payload, err := json.Marshal(Message{
		Device:  m.device,
		Pattern: p.String(),
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	token := m.pub.Publish(m.topic, 1, true, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("publish to %s: timed out after %s", m.topic, m.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}
