// Package migrations embeds SQL migration files into the binary, so Helm
// Core can migrate its schema without the SQL files present on disk.
package migrations

import (
	"embed"

	"github.com/itechmarine/helm-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
