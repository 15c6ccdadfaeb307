package db

import "embed"

// MigrationFS embeds the SQL migrations in internal/db/migrations. cmd/migrate and
// cmd/server apply them through the migrate package.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
