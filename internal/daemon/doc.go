// Package daemon is the runtime shell every component runs in.
//
// A Daemon owns the bus adapter, the settings synchronizer, the registry
// and its liveness monitor, the component memory, the intent distributor,
// the dialogs and the background task runner. It drives the startup
// sequence, then calls the component's MainLoop until shutdown.
//
// A component only implements the Component interface:
//
//	type speech struct{ d *daemon.Daemon }
//
//	func (s *speech) SetConfig(params map[string]any) bool { ... }
//	func (s *speech) MainLoop(ctx context.Context) error { ... }
//
// and may add its own topics by also implementing RouteProvider, and
// react to global settings changes by implementing Reloader.
//
// Built-in topics:
//
//	global/alive          liveness announcements of every component
//	<name>/shutdown       stop the component
//	<name>/reload         re-apply the current global settings
//	<name>/help           list the topics of the component
//	<name>/intent_ack     acknowledgement of an intent file
package daemon
