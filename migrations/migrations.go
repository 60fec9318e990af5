// Package migrations embeds the SQL schema of the postgres run history store.
package migrations

import "embed"

// FS holds the golang-migrate up/down files.
//
//go:embed *.sql
var FS embed.FS
