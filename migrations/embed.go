// Package migrations embeds the per-cohort schema. Files are applied in
// numeric-prefix order by db.Migrator.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
