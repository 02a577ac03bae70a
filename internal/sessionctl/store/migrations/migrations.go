// Package migrations embeds the sessionctl schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
