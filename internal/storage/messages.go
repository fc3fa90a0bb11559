package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"serialnotify/internal/domain"
)

type messageRepo struct{ s *sqlStore }

const messageColumns = `id, recipient, body, status, error, created, last_update`

const insertMessage = `
INSERT INTO messages (id, recipient, body, status, error, created, last_update)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func prepareMessage(m domain.Message, now time.Time) (domain.Message, error) {
	m.ApplyDefaults(now)
	if err := m.Validate(); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (r messageRepo) Enqueue(ctx context.Context, m domain.Message) (domain.Message, error) {
	m, err := prepareMessage(m, time.Now())
	if err != nil {
		return domain.Message{}, err
	}
	_, err = r.s.exec(ctx, insertMessage,
		m.ID, m.Recipient, m.Body, string(m.Status), m.Error, millis(m.Created), millis(m.LastUpdate))
	if err != nil {
		return domain.Message{}, fmt.Errorf("enqueue message: %w", err)
	}
	r.s.messagesChanged()
	return m, nil
}

func (r messageRepo) EnqueueBatch(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now()
	prepared := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		p, err := prepareMessage(m, now)
		if err != nil {
			return err
		}
		prepared = append(prepared, p)
	}
	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.s.q(insertMessage))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range prepared {
			if _, err := stmt.ExecContext(ctx,
				m.ID, m.Recipient, m.Body, string(m.Status), m.Error, millis(m.Created), millis(m.LastUpdate)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue %d messages: %w", len(prepared), err)
	}
	r.s.messagesChanged()
	return nil
}

func (r messageRepo) Get(ctx context.Context, id string) (domain.Message, error) {
	m, err := scanMessage(r.s.queryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

func (r messageRepo) List(ctx context.Context, q MessageQuery) ([]domain.Message, error) {
	var (
		where []string
		args  []any
	)
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Recipient != 0 {
		where = append(where, "recipient = ?")
		args = append(args, q.Recipient)
	}
	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Claim and Release only write lease columns, which the change feed trigger
// ignores.
func (r messageRepo) Claim(ctx context.Context, id, owner string, now time.Time, lease time.Duration) (bool, error) {
	res, err := r.s.exec(ctx, `
UPDATE messages SET lease_owner = ?, lease_until = ?
WHERE id = ? AND status = ? AND (lease_until IS NULL OR lease_until < ?)`,
		owner, millis(now.Add(lease)), id, string(domain.StatusReady), millis(now))
	if err != nil {
		return false, fmt.Errorf("claim message %s: %w", id, err)
	}
	return affected(res) == 1, nil
}

func (r messageRepo) Release(ctx context.Context, id, owner string) error {
	_, err := r.s.exec(ctx, `
UPDATE messages SET lease_owner = NULL, lease_until = NULL
WHERE id = ? AND lease_owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("release message %s: %w", id, err)
	}
	return nil
}

func (r messageRepo) Transition(ctx context.Context, id string, to domain.Status, reason string, now time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("transition message %s: %q is not a terminal status", id, to)
	}
	res, err := r.s.exec(ctx, `
UPDATE messages SET status = ?, error = ?, last_update = ?, lease_owner = NULL, lease_until = NULL
WHERE id = ? AND status = ?`,
		string(to), reason, millis(now), id, string(domain.StatusReady))
	if err != nil {
		return false, fmt.Errorf("transition message %s to %s: %w", id, to, err)
	}
	ok := affected(res) == 1
	if ok {
		r.s.messagesChanged()
	}
	return ok, nil
}

func (r messageRepo) TouchReady(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.s.exec(ctx, `UPDATE messages SET last_update = ? WHERE status = ?`,
		millis(now), string(domain.StatusReady))
	if err != nil {
		return 0, fmt.Errorf("touch ready messages: %w", err)
	}
	n := affected(res)
	if n > 0 {
		r.s.messagesChanged()
	}
	return n, nil
}

func (r messageRepo) Stats(ctx context.Context) (QueueStats, error) {
	st := QueueStats{Counts: map[domain.Status]int64{
		domain.StatusReady: 0,
		domain.StatusDone:  0,
		domain.StatusError: 0,
	}}
	rows, err := r.s.query(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, fmt.Errorf("queue stats: %w", err)
		}
		st.Counts[domain.Status(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}

	var oldestUpdate, oldestCreated sql.NullInt64
	err = r.s.queryRow(ctx, `SELECT MIN(last_update), MIN(created) FROM messages WHERE status = ?`,
		string(domain.StatusReady)).Scan(&oldestUpdate, &oldestCreated)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	if oldestUpdate.Valid {
		st.OldestReady = fromMillis(oldestUpdate.Int64)
	}
	if oldestCreated.Valid {
		st.OldestReadyCreated = fromMillis(oldestCreated.Int64)
	}
	return st, nil
}

func scanMessage(sc rowScanner) (domain.Message, error) {
	var (
		m               domain.Message
		status          string
		created, update int64
	)
	if err := sc.Scan(&m.ID, &m.Recipient, &m.Body, &status, &m.Error, &created, &update); err != nil {
		return domain.Message{}, err
	}
	m.Status = domain.Status(status)
	m.Created = fromMillis(created)
	m.LastUpdate = fromMillis(update)
	return m, nil
}
