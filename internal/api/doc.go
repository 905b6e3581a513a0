// Package api provides the HTTP status server of a Tep component.
//
// It exposes read-only views of the running component to operators and
// dashboards:
//
//	GET /healthz          liveness of the process and its bus connection
//	GET /status           startup state, version and subscribed topics
//	GET /peers            the local cache of peer liveness entries
//	GET /peers/{name}     a single peer entry
//	GET /metrics          Prometheus metrics
//	GET /ws/peers         WebSocket feed of peer entry changes
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
