package db

import (
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrateUp applies pending schema migrations and returns how many ran.
// Migrations ship inside the binary so worker/API processes can self-apply
// when MIGRATE_ON_START is set, and the migrate subcommand runs them directly.
func (p *Postgres) MigrateUp() (int, error) {
	if p == nil || p.DB == nil {
		return 0, fmt.Errorf("migrate: postgres connection is not initialized")
	}
	sqlDB, err := p.DB.DB()
	if err != nil {
		return 0, fmt.Errorf("migrate: resolve sql db handle: %w", err)
	}

	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFS,
		Root:       "migrations",
	}
	applied, err := migrate.Exec(sqlDB, "postgres", source, migrate.Up)
	if err != nil {
		return applied, fmt.Errorf("migrate: apply migrations: %w", err)
	}
	return applied, nil
}
