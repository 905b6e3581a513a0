package daemon

import (
	"context"

	"github.com/nerrad567/tep-core/internal/bus"
	"github.com/nerrad567/tep-core/internal/intents"
	"github.com/nerrad567/tep-core/internal/message"
	"github.com/nerrad567/tep-core/internal/registry"
)

// Built-in actions of every component.
const (
	ShutdownAction = "shutdown"
	ReloadAction   = "reload"
	HelpAction     = "help"
)

// routes returns the built-in routes followed by the component's own.
func (d *Daemon) routes() []bus.Route {
	routes := []bus.Route{
		{Name: bus.AliveTopic, Root: true, Handler: d.onAlive},
		{Name: ShutdownAction, Handler: d.onShutdown},
		{Name: ReloadAction, Handler: d.onReload},
		{Name: HelpAction, Handler: d.onHelp},
		{Name: intents.AckAction, Handler: d.intents.Ack},
	}
	if p, ok := d.component.(RouteProvider); ok {
		routes = append(routes, p.Routes()...)
	}
	return routes
}

// onAlive feeds liveness announcements, last wills included, into the
// local peer cache.
func (d *Daemon) onAlive(_ context.Context, args map[string]any) error {
	entry, err := registry.EntryFromArguments(args)
	if err != nil {
		return err
	}
	d.monitor.Announced(entry)
	return nil
}

// onShutdown stops the daemon. Shutdown disconnects the bus, so it cannot
// run on the delivery goroutine.
func (d *Daemon) onShutdown(context.Context, map[string]any) error {
	d.logger.Info("shutdown requested over the bus")
	go d.Shutdown()
	return nil
}

func (d *Daemon) onReload(ctx context.Context, _ map[string]any) error {
	d.reload(ctx, d.settings.Global())
	return nil
}

// onHelp answers with the component's topics on "<source>/help", or logs
// them when the request has no source.
func (d *Daemon) onHelp(ctx context.Context, _ map[string]any) error {
	topics := d.bus.Topics()

	in, _ := bus.InboundFrom(ctx)
	if in.Source == "" {
		d.logger.Info("available topics", "topics", topics)
		return nil
	}

	msg, err := message.WithArguments(bus.ComponentTopic(in.Source, HelpAction), map[string]any{
		"component": d.name,
		"version":   d.version,
		"topics":    topics,
	}, message.WithSource(d.name), message.WithContext(in.Context))
	if err != nil {
		return err
	}
	return d.bus.Publish(msg, "")
}
