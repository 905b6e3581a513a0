// Package logging gives every Tep component the same structured log/slog
// output, tagged with service, component and version.
//
// The logging section of the configuration selects level, format and
// stream:
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr
//
// Broker passwords and store tokens must never be logged.
package logging
