package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func Migrate(database *sql.DB) error {
	return MigrateContext(context.Background(), database)
}

// MigrateContext applies every embedded *.up.sql file not yet recorded in schema_migrations,
// in filename order, each inside its own transaction.
func MigrateContext(ctx context.Context, database *sql.DB) error {
	if _, err := database.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	pending, err := pendingMigrations(ctx, database)
	if err != nil {
		return err
	}

	for _, filename := range pending {
		if err := applyMigration(ctx, database, filename); err != nil {
			return err
		}
	}

	if len(pending) > 0 {
		slog.Info("database migrated", "applied", len(pending))
	}
	return nil
}

func pendingMigrations(ctx context.Context, database *sql.DB) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var upMigrations []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upMigrations = append(upMigrations, entry.Name())
		}
	}
	sort.Strings(upMigrations)

	var pending []string
	for _, filename := range upMigrations {
		var exists int
		err := database.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", extractVersion(filename),
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("checking migration %s: %w", filename, err)
		}
		if exists == 0 {
			pending = append(pending, filename)
		}
	}
	return pending, nil
}

func applyMigration(ctx context.Context, database *sql.DB, filename string) error {
	version := extractVersion(filename)

	content, err := migrationsFS.ReadFile("migrations/" + filename)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", filename, err)
	}

	transaction, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer transaction.Rollback()

	if _, err := transaction.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("executing migration %s: %w", filename, err)
	}
	if _, err := transaction.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}

	slog.Debug("applied migration", "version", version, "file", filename)
	return nil
}

func extractVersion(filename string) int {
	var version int
	fmt.Sscanf(filename, "%d_", &version)
	return version
}
