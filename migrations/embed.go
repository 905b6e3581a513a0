// Package migrations embeds the SQL schema of the embedded key-value store.
//
// The files are compiled into the binary so the sqlite store backend can
// migrate a fresh database without any files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
