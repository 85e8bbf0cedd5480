// Package migrations embeds the goose SQL migrations for the availability
// service so the binary can apply them on start.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
