package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"serialnotify/internal/eventbus"
	logx "serialnotify/pkg/logx"
)

// notifyChannel is raised by the messages_feed trigger function.
const notifyChannel = "message_changes"

func openPostgresDB(cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger, bus eventbus.Bus) (Store, error) {
	db, err := openPostgresDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	st := newSQLStore(db, dialectPostgres, log, bus, cfg.FeedPoll)

	listener := pq.NewListener(cfg.DSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			log.Warn("change listener connection lost", logx.Err(err))
		case pq.ListenerEventReconnected:
			log.Info("change listener reconnected")
			// Anything committed while disconnected is only visible to a re-read.
			bus.Publish(eventbus.Event{Type: eventbus.TopicMessages})
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		_ = db.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	done := make(chan struct{})
	go forwardNotifications(listener, st.bus, done)
	st.closeHooks = append(st.closeHooks, func() {
		close(done)
		_ = listener.Close()
	})

	log.Info("storage opened", logx.String("driver", "postgres"))
	return st, nil
}

// forwardNotifications turns NOTIFY payloads into bus wakeups until done.
func forwardNotifications(l *pq.Listener, bus eventbus.Bus, done <-chan struct{}) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// nil follows a reconnect.
				bus.Publish(eventbus.Event{Type: eventbus.TopicMessages})
				continue
			}
			bus.Publish(eventbus.Event{Type: eventbus.TopicMessages, Data: n.Extra})
		case <-ping.C:
			go func() { _ = l.Ping() }()
		}
	}
}
