// Package migrations embeds the goose SQL migrations of the token table.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
