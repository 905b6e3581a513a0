package message

import (
	"encoding/json"
	"fmt"
)

// DefaultContext is used when no context is supplied.
const DefaultContext = "general"

// argumentsKey is the mandatory key of the data mapping.
const argumentsKey = "arguments"

// Message is an immutable bus message.
type Message struct {
	topic   string
	data    map[string]any
	context string
	source  *string
	payload []byte
}

// envelope is the wire form of a Message.
type envelope struct {
	Topic   string         `json:"topic"`
	Data    map[string]any `json:"data"`
	Context string         `json:"context"`
	Source  *string        `json:"source"`
}

// Option customises a Message at construction.
type Option func(*Message)

// WithContext sets the conversation context (default "general").
func WithContext(ctx string) Option {
	return func(m *Message) {
		m.context = ctx
	}
}

// WithSource records the sending component so replies can be addressed to it.
func WithSource(source string) Option {
	return func(m *Message) {
		m.source = &source
	}
}

// New builds a message and computes its payload.
//
// data must be a map[string]any holding an "arguments" key whose value is
// itself a mapping; anything else fails with ErrInvalidMessage.
//
// Example:
//
//	msg, err := message.New("speech/say", map[string]any{
//	    "arguments": map[string]any{"text": "hello"},
//	}, message.WithSource("nlu"))
func New(topic string, data any, opts ...Option) (*Message, error) {
	mapping, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: data is not a mapping", ErrInvalidMessage)
	}
	args, present := mapping[argumentsKey]
	if !present {
		return nil, fmt.Errorf("%w: missing %q key in data", ErrInvalidMessage, argumentsKey)
	}
	if _, ok := args.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: %q is not a mapping", ErrInvalidMessage, argumentsKey)
	}
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidMessage)
	}

	m := &Message{
		topic:   topic,
		data:    deepCopy(mapping).(map[string]any),
		context: DefaultContext,
	}
	for _, opt := range opts {
		opt(m)
	}

	payload, err := json.Marshal(envelope{
		Topic:   m.topic,
		Data:    m.data,
		Context: m.context,
		Source:  m.source,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	m.payload = payload

	return m, nil
}

// WithArguments is shorthand for New(topic, {"arguments": args}, opts...).
func WithArguments(topic string, args map[string]any, opts ...Option) (*Message, error) {
	if args == nil {
		args = map[string]any{}
	}
	return New(topic, map[string]any{argumentsKey: args}, opts...)
}

// Decode parses a wire payload back into a Message.
func Decode(payload []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	var data any
	if env.Data != nil {
		data = env.Data
	}

	opts := []Option{}
	if env.Context != "" {
		opts = append(opts, WithContext(env.Context))
	}
	if env.Source != nil {
		opts = append(opts, WithSource(*env.Source))
	}
	return New(env.Topic, data, opts...)
}

// Topic returns the destination topic.
func (m *Message) Topic() string { return m.topic }

// Context returns the conversation context.
func (m *Message) Context() string { return m.context }

// Source returns the sending component and whether one was set.
func (m *Message) Source() (string, bool) {
	if m.source == nil {
		return "", false
	}
	return *m.source, true
}

// Data returns a copy of the data mapping.
func (m *Message) Data() map[string]any {
	return deepCopy(m.data).(map[string]any)
}

// Arguments returns a copy of the "arguments" mapping.
func (m *Message) Arguments() map[string]any {
	args, _ := m.data[argumentsKey].(map[string]any)
	return deepCopy(args).(map[string]any)
}

// Payload returns the serialised envelope computed at construction.
func (m *Message) Payload() []byte {
	out := make([]byte, len(m.payload))
	copy(out, m.payload)
	return out
}

// String returns the payload as text, for logging.
func (m *Message) String() string {
	return string(m.payload)
}

// deepCopy copies nested mappings and lists, leaving other values shared.
// A nil map stays nil.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
