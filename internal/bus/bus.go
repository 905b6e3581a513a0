package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/tep-core/internal/message"
	"github.com/nerrad567/tep-core/internal/metrics"
)

// Handler processes the "arguments" mapping of an inbound message.
//
// Metadata of the message being handled is available through
// InboundFrom(ctx).
type Handler func(ctx context.Context, args map[string]any) error

// Transport is the pub/sub connection a Bus runs over.
//
// Subscribe handlers may be called from transport goroutines and must be
// safe for concurrent use.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Publish(topic string, payload []byte) error
}

// Route binds an action of the component to a handler.
//
// The topic is "<component>/<Name>" unless Root is set, in which case
// Name is used verbatim (for example "global/alive").
type Route struct {
	Name    string
	Root    bool
	Handler Handler
}

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Inbound describes the message a Handler is running for.
type Inbound struct {
	Topic   string
	Context string
	Source  string
}

type inboundKey struct{}

// InboundFrom returns the message metadata stored in ctx by Dispatch.
func InboundFrom(ctx context.Context) (Inbound, bool) {
	in, ok := ctx.Value(inboundKey{}).(Inbound)
	return in, ok
}

// Option customises a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records publish and dispatch counters on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(b *Bus) {
		b.metrics = r
	}
}

// Bus is the message bus adapter of one component.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers run on the transport's delivery goroutine.
type Bus struct {
	name      string
	transport Transport
	logger    Logger
	metrics   *metrics.Recorder

	mu        sync.RWMutex
	handlers  map[string]Handler
	connected bool
	baseCtx   context.Context
}

// New creates a bus for the component name over transport.
func New(name string, transport Transport, opts ...Option) *Bus {
	b := &Bus{
		name:      name,
		transport: transport,
		logger:    noopLogger{},
		handlers:  make(map[string]Handler),
		baseCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the component name the bus dispatches for.
func (b *Bus) Name() string {
	return b.name
}

// Register binds topic to handler.
//
// A topic can be bound only once; a second registration fails with
// ErrDuplicateTopic. Registering on a connected bus subscribes at once.
func (b *Bus) Register(topic string, handler Handler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, topic)
	}

	b.mu.Lock()
	if _, exists := b.handlers[topic]; exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTopic, topic)
	}
	b.handlers[topic] = handler
	connected := b.connected
	b.mu.Unlock()

	if connected {
		if err := b.transport.Subscribe(topic, b.Dispatch); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
	}
	return nil
}

// RegisterRoutes registers every route of the table.
//
// It stops at the first failing route and returns its error.
func (b *Bus) RegisterRoutes(routes []Route) error {
	for _, r := range routes {
		if r.Name == "" {
			return ErrInvalidTopic
		}
		topic := r.Name
		if !r.Root {
			topic = ComponentTopic(b.name, r.Name)
		}
		if err := b.Register(topic, r.Handler); err != nil {
			return err
		}
	}
	return nil
}

// Topics returns the registered topics in sorted order.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// Connect connects the transport and subscribes every registered topic.
//
// ctx bounds the connection attempt and, once connected, is the parent
// context handlers receive. Connect may be called again after a failure.
func (b *Bus) Connect(ctx context.Context) error {
	if err := b.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting transport: %w", err)
	}

	topics := b.Topics()
	for _, topic := range topics {
		if err := b.transport.Subscribe(topic, b.Dispatch); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic, err)
		}
		b.logger.Debug("subscribed", "topic", topic)
	}

	b.mu.Lock()
	b.connected = true
	b.baseCtx = context.WithoutCancel(ctx)
	b.mu.Unlock()

	b.logger.Info("bus connected", "topics", len(topics))
	return nil
}

// Disconnect closes the transport. Calling it more than once is a no-op.
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.connected = false
	b.mu.Unlock()

	if err := b.transport.Disconnect(); err != nil {
		return fmt.Errorf("disconnecting transport: %w", err)
	}
	b.logger.Info("bus disconnected")
	return nil
}

// IsConnected reports whether Connect succeeded and Disconnect has not run.
// Transports that track their session (MQTTTransport, LocalTransport) are
// also asked, so a lost broker connection shows up here.
func (b *Bus) IsConnected() bool {
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()

	if s, ok := b.transport.(sessionReporter); ok && connected {
		return s.IsConnected()
	}
	return connected
}

type sessionReporter interface {
	IsConnected() bool
}

// Publish sends msg on overrideTopic, or on the message's own topic when
// overrideTopic is empty.
//
// Returns message.ErrInvalidMessage for a nil message.
func (b *Bus) Publish(msg *message.Message, overrideTopic string) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", message.ErrInvalidMessage)
	}

	topic := overrideTopic
	if topic == "" {
		topic = msg.Topic()
	}
	if err := b.transport.Publish(topic, msg.Payload()); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}

	b.metrics.IncPublished(Scope(topic))
	return nil
}

// inboundEnvelope is decoded leniently: a missing or malformed
// "arguments" entry yields an empty mapping.
type inboundEnvelope struct {
	Data    map[string]any `json:"data"`
	Context string         `json:"context"`
	Source  *string        `json:"source"`
}

// Dispatch delivers an inbound payload to the handler bound to topic.
//
// It is the callback passed to Transport.Subscribe. Nothing is returned
// to the transport; every failure is logged and the message dropped.
func (b *Bus) Dispatch(topic string, payload []byte) {
	if !inScope(b.name, topic) {
		b.logger.Warn("message dropped",
			"topic", topic,
			"error", fmt.Errorf("%w: %s", ErrBadDestination, Scope(topic)),
		)
		b.metrics.IncDropped(metrics.DropBadDestination)
		return
	}

	b.mu.RLock()
	handler, ok := b.handlers[topic]
	if !ok && Scope(topic) != GlobalScope {
		// Scope matched case-insensitively; routes are stored under the
		// component's own spelling.
		_, action, _ := strings.Cut(topic, "/")
		handler, ok = b.handlers[ComponentTopic(b.name, action)]
	}
	parent := b.baseCtx
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler for topic", "topic", topic)
		b.metrics.IncDropped(metrics.DropNoHandler)
		return
	}

	var env inboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("undecodable payload dropped", "topic", topic, "error", err)
		b.metrics.IncDropped(metrics.DropBadPayload)
		return
	}

	args, _ := env.Data["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	in := Inbound{Topic: topic, Context: env.Context}
	if in.Context == "" {
		in.Context = message.DefaultContext
	}
	if env.Source != nil {
		in.Source = *env.Source
	}

	b.invoke(context.WithValue(parent, inboundKey{}, in), topic, handler, args)
}

// invoke runs handler, logging its error and containing any panic.
func (b *Bus) invoke(ctx context.Context, topic string, handler Handler, args map[string]any) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			b.logger.Error("handler panic recovered", "topic", topic, "panic", r)
		}
		b.metrics.ObserveDispatch(topic, time.Since(start), err)
	}()

	if err = handler(ctx, args); err != nil {
		b.logger.Warn("handler returned error", "topic", topic, "error", err)
	}
}
