// Package migrations registers the schema migrations applied by
// cmd/trustcored db subcommands, adapted from the teacher's
// internal/migrations package (one file per change, init-registered
// against a shared *migrate.Migrations set).
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the registry every timestamp-prefixed <timestamp>_<name>.go
// file in this package appends to via init().
var Migrations = migrate.NewMigrations()
