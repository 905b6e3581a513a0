package bus

import (
	"context"
	"sync"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
	"github.com/nerrad567/tep-core/internal/infrastructure/mqtt"
)

// MQTTTransport runs a Bus over an MQTT broker. It implements Transport.
//
// Each Connect dials a fresh client, so a failed attempt can simply be
// retried.
type MQTTTransport struct {
	cfg  config.MQTTConfig
	opts []mqtt.Option

	mu     sync.RWMutex
	client *mqtt.Client
}

// NewMQTTTransport creates a transport for cfg. opts are applied to every
// client it dials (for example mqtt.WithWill).
func NewMQTTTransport(cfg config.MQTTConfig, opts ...mqtt.Option) *MQTTTransport {
	return &MQTTTransport{cfg: cfg, opts: opts}
}

// Connect dials the broker. An existing live connection is kept.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil && t.client.IsConnected() {
		return nil
	}
	client, err := mqtt.Connect(ctx, t.cfg, t.opts...)
	if err != nil {
		return err
	}
	t.client = client
	return nil
}

// Disconnect closes the client.
func (t *MQTTTransport) Disconnect() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// Subscribe subscribes topic at the configured QoS.
func (t *MQTTTransport) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	client, err := t.current()
	if err != nil {
		return err
	}
	return client.Subscribe(topic, func(topic string, payload []byte) error {
		handler(topic, payload)
		return nil
	})
}

// Publish publishes payload at the configured QoS, not retained.
func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	client, err := t.current()
	if err != nil {
		return err
	}
	return client.Publish(topic, payload)
}

// IsConnected reports whether the broker session is up.
func (t *MQTTTransport) IsConnected() bool {
	client, err := t.current()
	return err == nil && client.IsConnected()
}

func (t *MQTTTransport) current() (*mqtt.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return nil, mqtt.ErrNotConnected
	}
	return t.client, nil
}
