// Package migrations embeds the schema for the alert engine.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
