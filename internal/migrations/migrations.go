// Package migrations embeds the goose migrations of every service.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed users/*.sql books/*.sql borrow/*.sql
var embedded embed.FS

// FS returns the migration files of a service
func FS(service string) (fs.FS, error) {
	sub, err := fs.Sub(embedded, service)
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", service, err)
	}
	if _, err := fs.Stat(sub, "00001_init.sql"); err != nil {
		return nil, fmt.Errorf("no migrations for service %q", service)
	}
	return sub, nil
}

// Up applies pending migrations of the service. Each service tracks its
// version in its own goose table.
func Up(ctx context.Context, db *sql.DB, service string, logger *slog.Logger) error {
	fsys, err := FS(service)
	if err != nil {
		return err
	}

	store, err := database.NewStore(database.DialectPostgres, "goose_db_version_"+service)
	if err != nil {
		return fmt.Errorf("goose store: %w", err)
	}

	provider, err := goose.NewProvider("", db, fsys, goose.WithStore(store))
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		logger.Info("migration applied",
			slog.String("service", service),
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}
