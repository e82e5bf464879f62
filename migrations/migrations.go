// Package migrations embeds the goose SQL migrations for the dispatch
// core's schema so cmd/dispatchd can run them without a separate
// migrations directory on disk.
package migrations

import "embed"

// PostgresMigrations is passed to pkg/database.RunMigrations at startup.
//
//go:embed postgres/*.sql
var PostgresMigrations embed.FS
