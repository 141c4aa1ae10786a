package migrations

import "embed"

//go:embed *.sql
var Postgres embed.FS
