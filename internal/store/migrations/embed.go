// Package migrations embeds the SQL migrations for the app-owned wire.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
