package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"serialnotify/internal/domain"
	"serialnotify/internal/eventbus"
	logx "serialnotify/pkg/logx"
)

const changeBatch = 256

// Watch tails message_changes from its current end. The reader wakes on
// in-process writes (bus), on postgres notifications (forwarded to the same
// bus) and on every feedPoll tick for writes made by other processes.
func (r messageRepo) Watch(ctx context.Context, filter MessageFilter) (<-chan Change, error) {
	var after int64
	if err := r.s.queryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM message_changes`).Scan(&after); err != nil {
		return nil, fmt.Errorf("watch messages: %w", err)
	}

	wake, unsubscribe := r.s.bus.Subscribe(16)
	out := make(chan Change, 64)
	log := r.s.log.With(logx.String("op", "watch"))

	go func() {
		defer close(out)
		defer unsubscribe()

		tick := time.NewTicker(r.s.feedPoll)
		defer tick.Stop()

		for {
			changes, last, err := r.readChanges(ctx, after)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("read change feed failed", logx.Err(err))
			}
			after = last
			for _, c := range changes {
				if !filter.Match(c.New) {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
			if len(changes) == changeBatch {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case ev, ok := <-wake:
				if !ok {
					return
				}
				if ev.Type != eventbus.TopicMessages {
					continue
				}
			case <-tick.C:
			}
		}
	}()
	return out, nil
}

// readChanges returns up to changeBatch changes after seq and the highest
// seq read. Rows are drained before returning so the connection is free.
func (r messageRepo) readChanges(ctx context.Context, after int64) ([]Change, int64, error) {
	rows, err := r.s.query(ctx, `
SELECT c.seq, c.message_id, c.old_status, c.old_error, c.old_last_update,
       c.new_status, c.new_error, c.new_last_update, m.recipient, m.body, m.created
FROM message_changes c
JOIN messages m ON m.id = c.message_id
WHERE c.seq > ?
ORDER BY c.seq
LIMIT ?`, after, changeBatch)
	if err != nil {
		return nil, after, err
	}
	defer rows.Close()

	var out []Change
	last := after
	for rows.Next() {
		var (
			seq                       int64
			id                        string
			oldStatus, oldErr         sql.NullString
			oldUpdate                 sql.NullInt64
			newStatus, newErr         string
			newUpdate, recipient, cre int64
			body                      string
		)
		if err := rows.Scan(&seq, &id, &oldStatus, &oldErr, &oldUpdate,
			&newStatus, &newErr, &newUpdate, &recipient, &body, &cre); err != nil {
			return out, last, err
		}
		last = seq
		c := Change{
			Seq: seq,
			New: &domain.Message{
				ID: id, Recipient: recipient, Body: body,
				Status: domain.Status(newStatus), Error: newErr,
				Created: fromMillis(cre), LastUpdate: fromMillis(newUpdate),
			},
		}
		if oldStatus.Valid {
			c.Old = &domain.Message{
				ID: id, Recipient: recipient, Body: body,
				Status: domain.Status(oldStatus.String), Error: oldErr.String,
				Created: fromMillis(cre), LastUpdate: fromMillis(oldUpdate.Int64),
			}
		}
		out = append(out, c)
	}
	return out, last, rows.Err()
}

func (r messageRepo) PruneChanges(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.s.exec(ctx, `DELETE FROM message_changes WHERE new_last_update < ?`, millis(before))
	if err != nil {
		return 0, fmt.Errorf("prune change feed: %w", err)
	}
	return affected(res), nil
}
