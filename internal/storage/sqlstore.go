package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"serialnotify/internal/eventbus"
	logx "serialnotify/pkg/logx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// sqlStore implements every repo over database/sql. Queries are written
// with ? placeholders and rebound for postgres.
type sqlStore struct {
	db       *sql.DB
	dialect  dialect
	log      logx.Logger
	bus      eventbus.Bus
	feedPoll time.Duration

	// closeHooks run before the db handle is closed.
	closeHooks []func()
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger, bus eventbus.Bus, feedPoll time.Duration) *sqlStore {
	if feedPoll <= 0 {
		feedPoll = time.Second
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &sqlStore{db: db, dialect: d, log: log, bus: bus, feedPoll: feedPoll}
}

func (s *sqlStore) Serials() SerialRepo       { return serialRepo{s} }
func (s *sqlStore) Users() UserRepo           { return userRepo{s} }
func (s *sqlStore) Messages() MessageRepo     { return messageRepo{s} }
func (s *sqlStore) Watermarks() WatermarkRepo { return watermarkRepo{s} }

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	for _, h := range s.closeHooks {
		h()
	}
	return s.db.Close()
}

// q rebinds a query for the store's dialect.
func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar rewrites ? placeholders to $1, $2, ...
// Queries in this package never contain a literal question mark.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.q(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.q(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.q(query), args...)
}

// inTx runs fn in a transaction, committing when fn returns nil.
func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// messagesChanged wakes in-process watchers after a committed write.
func (s *sqlStore) messagesChanged() {
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicMessages})
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
