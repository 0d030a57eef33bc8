package postgres

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies goose migrations in the given direction ("up", "down",
// "status", "reset"). It opens its own database/sql handle through the pgx
// stdlib driver.
func Migrate(ctx context.Context, connString, command string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return errors.Wrap(err, "open migration connection")
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set goose dialect")
	}
	if err := goose.RunContext(ctx, command, db, "migrations"); err != nil {
		return errors.Wrapf(err, "goose %s", command)
	}
	return nil
}
