// Package migrations embeds the SQL schema for the lifecycle history and
// command audit stores.
//
// Files follow YYYYMMDD_HHMMSS_description.{up,down}.sql and are applied
// by database.DB.Migrate in version order.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

// FS is the embedded migration set, rooted at this directory.
var FS fs.FS = files
