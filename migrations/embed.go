// Package migrations embeds the agent's SQL migrations into the binary.
//
// Importing the package registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/iotdm-agent/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
