package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
)

// maxPayloadSize bounds a published envelope (1MB).
const maxPayloadSize = 1 << 20

// Logger receives connection and handler problems.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MessageHandler is called for every message matching a subscription.
//
// Handlers run on paho goroutines. A returned error is logged; it does
// not affect acknowledgment.
type MessageHandler func(topic string, payload []byte) error

// Will is the Last Will and Testament the broker publishes if the
// connection drops without a clean disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Option customises a Client before it connects.
type Option func(*Client, *pahomqtt.ClientOptions)

// WithWill registers a Last Will and Testament message.
func WithWill(w Will) Option {
	return func(_ *Client, opts *pahomqtt.ClientOptions) {
		configureLWT(opts, w)
	}
}

// WithLogger sets the logger before the first connection attempt so
// reconnection events are logged from the start.
func WithLogger(logger Logger) Option {
	return func(c *Client, _ *pahomqtt.ClientOptions) {
		if logger != nil {
			c.log = logger
		}
	}
}

// Client is one broker session publishing and subscribing at the
// configured QoS.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are replayed on every reconnect.
type Client struct {
	paho pahomqtt.Client
	qos  byte
	log  Logger

	up atomic.Bool

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// Connect makes a single connection attempt to the broker of cfg.
//
// Parameters:
//   - ctx: Cancels the attempt
//   - cfg: MQTT configuration; Broker.ClientID must be set
//   - opts: Optional settings (WithWill, WithLogger)
//
// Returns:
//   - *Client: Connected client; paho reconnects it from now on
//   - error: ErrConnectionFailed wrapping the cause
func Connect(ctx context.Context, cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := &Client{
		qos:  byte(cfg.QoS),
		log:  noopLogger{},
		subs: make(map[string]MessageHandler),
	}

	po := buildClientOptions(cfg)
	for _, opt := range opts {
		opt(c, po)
	}
	po.SetOnConnectHandler(func(pahomqtt.Client) {
		c.up.Store(true)
		c.resubscribe()
	})
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.up.Store(false)
		c.log.Warn("MQTT connection lost", "error", err)
	})
	po.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log.Warn("MQTT reconnecting", "broker", brokerURL(cfg))
	})

	c.paho = pahomqtt.NewClient(po)
	if err := wait(ctx, c.paho.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; IsConnected must hold
	// as soon as Connect returns.
	c.up.Store(true)
	return c, nil
}

// wait blocks until token completes, ctx ends or timeout elapses.
func wait(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", timeout)
	}
}

// Publish sends payload to topic, not retained.
//
// Returns ErrInvalidTopic for an empty or wildcard topic, ErrNotConnected
// without a session, and ErrPublishFailed for oversized payloads or a
// failed delivery.
func (c *Client) Publish(topic string, payload []byte) error {
	if err := ValidatePublishTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(context.Background(), c.paho.Publish(topic, c.qos, false, payload), defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe routes messages matching filter to handler. Filters may use
// the '+' and '#' wildcards. The subscription survives reconnects.
func (c *Client) Subscribe(filter string, handler MessageHandler) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subs[filter] = handler
	c.mu.Unlock()

	if err := wait(context.Background(), c.paho.Subscribe(filter, c.qos, c.deliver(handler)), defaultOperationTimeout); err != nil {
		c.mu.Lock()
		delete(c.subs, filter)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, filter, err)
	}
	return nil
}

// resubscribe replays every subscription on a new session.
func (c *Client) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for filter, handler := range c.subs {
		c.paho.Subscribe(filter, c.qos, c.deliver(handler))
	}
}

// Close disconnects from the broker.
//
// A clean disconnect suppresses the Last Will; callers that want peers to
// see an offline notice publish it themselves before calling Close.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	c.up.Store(false)
	c.paho.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.up.Load() && c.paho.IsConnected()
}

func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler and contains any panic it raises.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	if err := handler(topic, payload); err != nil {
		c.log.Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
