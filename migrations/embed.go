// Package migrations embeds the SQL migration files into the binary so the
// server can migrate its history database without files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory at the root of the FS.
//
//go:embed *.sql
var FS embed.FS
