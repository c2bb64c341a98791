// Package migrations embeds the service schema so the binaries can migrate
// a database without a migrations directory on disk.
package migrations

import "embed"

// FS holds the versioned up/down SQL files.
//
//go:embed *.sql
var FS embed.FS
