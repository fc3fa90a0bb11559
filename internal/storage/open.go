package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"serialnotify/internal/eventbus"
	logx "serialnotify/pkg/logx"
)

// Config selects and tunes the backend.
//
// Driver values:
//   - "sqlite": embedded database file (default)
//   - "postgres": server database; change wakeups use LISTEN/NOTIFY
type Config struct {
	Driver      string
	Path        string // sqlite
	DSN         string // postgres
	BusyTimeout time.Duration
	// FeedPoll bounds how long a watcher can miss a change written by
	// another process when no wakeup arrives.
	FeedPoll time.Duration
	// SkipMigrations leaves the schema alone; used by the migrate command
	// and by tests that manage the schema themselves.
	SkipMigrations bool
}

// Open migrates the schema and returns the configured store. bus carries
// in-process change wakeups; nil gets a private bus.
func Open(ctx context.Context, cfg Config, log logx.Logger, bus eventbus.Bus) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	log = log.With(logx.String("comp", "storage"))

	if !cfg.SkipMigrations {
		if err := Migrate(ctx, cfg, log); err != nil {
			return nil, err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log, bus)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log, bus)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
