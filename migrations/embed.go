// Package migrations embeds the SQLite schema. Importing it for side
// effects registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/tbdash/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
}
