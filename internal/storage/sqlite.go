package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"serialnotify/internal/eventbus"
	logx "serialnotify/pkg/logx"

	_ "modernc.org/sqlite"
)

// sqliteDSN builds a modernc DSN. Pragmas go through _pragma so they apply
// to every connection the pool opens; writers take the lock at BEGIN.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	v := url.Values{}
	v.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "synchronous(NORMAL)")
	v.Add("_pragma", "foreign_keys(1)")
	v.Set("_txlock", "immediate")
	return "file:" + path + "?" + v.Encode()
}

func openSQLiteDB(cfg Config) (*sql.DB, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; readers must drain rows before the
	// next statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func openSQLite(cfg Config, log logx.Logger, bus eventbus.Bus) (Store, error) {
	db, err := openSQLiteDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	log.Info("storage opened", logx.String("driver", "sqlite"), logx.String("path", cfg.Path))
	return newSQLStore(db, dialectSQLite, log, bus, cfg.FeedPoll), nil
}
