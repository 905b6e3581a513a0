package bus

import (
	"context"
	"sync"

	"github.com/nerrad567/tep-core/internal/infrastructure/mqtt"
)

// LocalBroker is an in-process message broker.
//
// Each component gets its own endpoint from Transport. Publishing fans the
// payload out synchronously, on the publisher's goroutine, to every
// connected endpoint with a matching subscription. Filters use MQTT
// wildcard syntax.
type LocalBroker struct {
	mu   sync.RWMutex
	subs []localSub
}

type localSub struct {
	owner   *LocalTransport
	filter  string
	handler func(topic string, payload []byte)
}

// NewLocalBroker creates an empty broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

// Transport returns a new endpoint on the broker.
func (b *LocalBroker) Transport() *LocalTransport {
	return &LocalTransport{broker: b}
}

func (b *LocalBroker) subscribe(owner *LocalTransport, filter string, handler func(string, []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.owner == owner && s.filter == filter {
			b.subs[i].handler = handler
			return
		}
	}
	b.subs = append(b.subs, localSub{owner: owner, filter: filter, handler: handler})
}

func (b *LocalBroker) drop(owner *LocalTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.owner != owner {
			kept = append(kept, s)
		}
	}
	clear(b.subs[len(kept):])
	b.subs = kept
}

func (b *LocalBroker) publish(topic string, payload []byte) {
	// Handlers may publish in turn, so deliver outside the lock.
	b.mu.RLock()
	var targets []func(string, []byte)
	for _, s := range b.subs {
		if mqtt.Match(s.filter, topic) {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		h(topic, buf)
	}
}

// LocalTransport is one endpoint on a LocalBroker. It implements Transport.
type LocalTransport struct {
	broker *LocalBroker

	mu        sync.RWMutex
	connected bool
	will      *localWill
}

type localWill struct {
	topic   string
	payload []byte
}

// SetWill registers a payload published on topic when the endpoint is
// dropped with Crash. A clean Disconnect discards it.
func (t *LocalTransport) SetWill(topic string, payload []byte) {
	t.mu.Lock()
	t.will = &localWill{topic: topic, payload: payload}
	t.mu.Unlock()
}

// Connect marks the endpoint connected.
func (t *LocalTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

// Disconnect removes the endpoint's subscriptions.
func (t *LocalTransport) Disconnect() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	t.broker.drop(t)
	return nil
}

// Crash disconnects without a clean shutdown and publishes the will, if any.
func (t *LocalTransport) Crash() {
	t.mu.Lock()
	t.connected = false
	will := t.will
	t.mu.Unlock()

	t.broker.drop(t)
	if will != nil {
		t.broker.publish(will.topic, will.payload)
	}
}

// IsConnected reports the connection state.
func (t *LocalTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Subscribe routes messages matching filter to handler. Subscribing the
// same filter again replaces its handler.
func (t *LocalTransport) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	if err := mqtt.ValidateFilter(filter); err != nil {
		return err
	}
	t.broker.subscribe(t, filter, handler)
	return nil
}

// Publish delivers payload to every matching subscription before returning.
func (t *LocalTransport) Publish(topic string, payload []byte) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	if err := mqtt.ValidatePublishTopic(topic); err != nil {
		return err
	}
	t.broker.publish(topic, payload)
	return nil
}
