package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT QoS 1: at-least-once. Duplicates are absorbed upstream by
// idempotent ingest, so there is no need for the cost of QoS 2.
const mqttQoS = 1

type MQTTConfig struct {
	BrokerURL      string // e.g. "tcp://broker:1883"
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// MQTTTransport wraps a paho client. Auto-reconnect is disabled on
// purpose: the sync agent owns the backoff policy and calls Connect
// again when its cycle finds the link down.
type MQTTTransport struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *log.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

func NewMQTT(cfg MQTTConfig, logger *log.Logger) *MQTTTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	t := &MQTTTransport{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]Handler),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	t.client = mqtt.NewClient(opts)
	return t
}

func (t *MQTTTransport) Connect(ctx context.Context) error {
	token := t.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.BrokerURL, err)
	}
	return nil
}

func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}

	token := t.client.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (t *MQTTTransport) Subscribe(filter string, h Handler) error {
	t.mu.Lock()
	t.subs[filter] = h
	connected := t.client.IsConnected()
	t.mu.Unlock()

	if !connected {
		// Applied by onConnect once the link comes up.
		return nil
	}
	return t.subscribe(filter, h)
}

func (t *MQTTTransport) subscribe(filter string, h Handler) error {
	token := t.client.Subscribe(filter, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	return nil
}

func (t *MQTTTransport) Connected() bool {
	return t.client.IsConnected()
}

func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}

// onConnect replays registered subscriptions. With clean sessions the
// broker forgets them on every disconnect.
func (t *MQTTTransport) onConnect(mqtt.Client) {
	t.mu.Lock()
	subs := make(map[string]Handler, len(t.subs))
	for f, h := range t.subs {
		subs[f] = h
	}
	t.mu.Unlock()

	for f, h := range subs {
		if err := t.subscribe(f, h); err != nil {
			t.logger.Printf("mqtt resubscribe %s: %v", f, err)
		}
	}
	t.logger.Printf("mqtt connected to %s (%d subscriptions)", t.cfg.BrokerURL, len(subs))
}

func (t *MQTTTransport) onConnectionLost(_ mqtt.Client, err error) {
	t.logger.Printf("mqtt connection lost: %v", err)
}
