package main

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/tep-core/internal/bus"
	"github.com/nerrad567/tep-core/internal/daemon"
	"github.com/nerrad567/tep-core/internal/message"
	"github.com/nerrad567/tep-core/internal/settings"
)

// mainLoopPace is how long one idle MainLoop iteration lasts.
const mainLoopPace = time.Second

// publisher is the part of the daemon the echo component talks through.
type publisher interface {
	Name() string
	Publish(msg *message.Message, overrideTopic string) error
	Dialog(key string, data any) (string, error)
}

// echo is the component tepd runs by default. It sends every "echo"
// request back to its sender and renders the "echo" dialog on "say".
type echo struct {
	log daemon.Logger

	mu     sync.RWMutex
	d      publisher
	params map[string]any
}

func newEcho(log daemon.Logger) *echo {
	return &echo{log: log, params: map[string]any{}}
}

func (e *echo) attach(d publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d = d
}

func (e *echo) host() publisher {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.d
}

// SetConfig keeps the component document.
func (e *echo) SetConfig(params map[string]any) bool {
	e.mu.Lock()
	e.params = maps.Clone(params)
	e.mu.Unlock()

	e.log.Info("configuration applied", "keys", len(params))
	return true
}

// Reload logs the new global settings.
func (e *echo) Reload(_ context.Context, g settings.Global) {
	e.log.Info("global settings reloaded", "language", g.Language, "nlu_engine", g.NLUEngine)
}

// MainLoop idles; the component only reacts to bus messages.
func (e *echo) MainLoop(ctx context.Context) error {
	timer := time.NewTimer(mainLoopPace)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}

// Routes implements daemon.RouteProvider.
func (e *echo) Routes() []bus.Route {
	return []bus.Route{
		{Name: "echo", Handler: e.onEcho},
		{Name: "say", Handler: e.onSay},
	}
}

func (e *echo) onEcho(ctx context.Context, args map[string]any) error {
	in, _ := bus.InboundFrom(ctx)
	if in.Source == "" {
		e.log.Info("echo", "arguments", args)
		return nil
	}

	d := e.host()
	msg, err := message.WithArguments(bus.ComponentTopic(in.Source, "echo"), args,
		message.WithSource(d.Name()),
		message.WithContext(in.Context),
	)
	if err != nil {
		return err
	}
	return d.Publish(msg, "")
}

// onSay renders the "echo" dialog. Configuration values fill the
// template fields the request leaves out.
func (e *echo) onSay(_ context.Context, args map[string]any) error {
	e.mu.RLock()
	data := maps.Clone(e.params)
	e.mu.RUnlock()
	if data == nil {
		data = map[string]any{}
	}
	maps.Copy(data, args)

	sentence, err := e.host().Dialog("echo", data)
	if err != nil {
		return err
	}
	e.log.Info("say", "sentence", sentence)
	return nil
}
