// Package migrations embeds the SQL schema so the binary can migrate a
// fresh database without the files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory, at the root of the FS.
//
//go:embed *.sql
var FS embed.FS
