package migrations

import "embed"

// FS contains the goose SQL migrations for the quest progress database.
//
//go:embed *.sql
var FS embed.FS
