// Package metrics exposes component runtime counters to Prometheus.
//
// A nil *Recorder is valid and records nothing, so packages can accept an
// optional recorder without nil checks at every call site.
package metrics
