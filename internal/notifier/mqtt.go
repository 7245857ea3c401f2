package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient is the subset of the paho client used by MQTTSink.
type MQTTClient interface {
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Retained bool
	Username string
	Password string
}

// MQTTSink publishes announcements as {"text": ..., "at": ...}.
type MQTTSink struct {
	client   MQTTClient
	topic    string
	qos      byte
	retained bool
	now      func() time.Time
}

type mqttPayload struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// DialMQTT connects to the broker; auto-reconnect keeps the session alive afterwards.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTSink, error) {
	if strings.TrimSpace(cfg.Broker) == "" || strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("mqtt broker and topic are required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0..2, got %d", cfg.QoS)
	}
	id := cfg.ClientID
	if id == "" {
		id = fmt.Sprintf("restartbot-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(id).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return NewMQTTSink(client, cfg.Topic, cfg.QoS, cfg.Retained), nil
}

func NewMQTTSink(client MQTTClient, topic string, qos byte, retained bool) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, qos: qos, retained: retained, now: time.Now}
}

func (m *MQTTSink) Name() string { return "mqtt" }

func (m *MQTTSink) Send(ctx context.Context, text string) error {
	b, err := json.Marshal(mqttPayload{Text: text, At: m.now().UTC()})
	if err != nil {
		return err
	}
	return waitToken(ctx, m.client.Publish(m.topic, m.qos, m.retained, b))
}

func (m *MQTTSink) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
