package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	logx "guildwatch/pkg/logx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrate applies pending schema migrations for the dialect.
func migrate(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) error {
	dir, gd := "migrations/sqlite", goose.DialectSQLite3
	if d == dialectPostgres {
		dir, gd = "migrations/postgres", goose.DialectPostgres
	}
	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("storage: migration fs: %w", err)
	}
	p, err := goose.NewProvider(gd, db, sub)
	if err != nil {
		return fmt.Errorf("storage: migration provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	for _, r := range results {
		log.Info("applied migration", logx.String("source", r.Source.Path), logx.Duration("took", r.Duration))
	}
	return nil
}
