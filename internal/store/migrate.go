package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var bundled embed.FS

// Migrate moves the journal schema up or down by steps, or all the way when
// steps is 0. An empty source uses the migrations built into the binary;
// otherwise source is a golang-migrate URL such as file://migrations.
func Migrate(source, dsn, direction string, steps int) error {
	if dsn == "" {
		return errors.New("postgres dsn required")
	}
	m, err := open(source, dsn)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	switch {
	case direction == "up" && steps > 0:
		err = m.Steps(steps)
	case direction == "up":
		err = m.Up()
	case direction == "down" && steps > 0:
		err = m.Steps(-steps)
	case direction == "down":
		err = m.Down()
	default:
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func open(source, dsn string) (*migrate.Migrate, error) {
	if source != "" {
		return migrate.New(source, dsn)
	}
	src, err := iofs.New(bundled, "migrations")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, dsn)
}
