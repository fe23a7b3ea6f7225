// Package migrations embeds the clinic schema migrations into the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
