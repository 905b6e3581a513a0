// Package registry implements the component liveness protocol.
//
// Every component keeps an entry {name, version, date, state} under
// /registry/<name> and refreshes it with Ping on a fixed interval. Peers
// learn about each other from the store and from global/alive
// announcements, and keep a local States cache.
//
// A Monitor merges the central entries into the cache and marks peers
// whose last heartbeat is older than the stale threshold as NOT ALIVE.
// With write-on-detection enabled the monitor also rewrites the central
// entry, so every component converges on the same view; the central
// registry is the source of truth.
package registry
