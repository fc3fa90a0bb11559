package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	logx "serialnotify/pkg/logx"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies every pending up migration for cfg.Driver. It uses its own
// connection because closing the migrator closes the database handle.
func Migrate(ctx context.Context, cfg Config, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		name string
		drv  database.Driver
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		db, err := openSQLiteDB(cfg)
		if err != nil {
			return err
		}
		name = "sqlite"
		if drv, err = migratesqlite.WithInstance(db, &migratesqlite.Config{}); err != nil {
			_ = db.Close()
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	case "postgres", "postgresql":
		db, err := openPostgresDB(cfg)
		if err != nil {
			return err
		}
		name = "postgres"
		if drv, err = migratepg.WithInstance(db, &migratepg.Config{}); err != nil {
			_ = db.Close()
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		_ = drv.Close()
		return err
	}
	src, err := iofs.New(sub, name)
	if err != nil {
		_ = drv.Close()
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, name, drv)
	if err != nil {
		_ = src.Close()
		_ = drv.Close()
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn("close migrator", logx.Any("source_err", srcErr), logx.Any("db_err", dbErr))
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	version, dirty, verr := m.Version()
	if verr == nil {
		log.Info("schema migrated", logx.String("driver", name), logx.Any("version", version), logx.Bool("dirty", dirty))
	}
	return nil
}
