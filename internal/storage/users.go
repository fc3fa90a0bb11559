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

type userRepo struct{ s *sqlStore }

func (r userRepo) Upsert(ctx context.Context, u domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.Created.IsZero() {
		u.Created = time.Now()
	}
	_, err := r.s.exec(ctx, `
INSERT INTO users (id, username, first_name, active, created)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    username = excluded.username,
    first_name = excluded.first_name,
    active = excluded.active`,
		u.ID, u.Username, u.FirstName, u.Active, millis(u.Created))
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

func (r userRepo) Get(ctx context.Context, id int64) (domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	err := r.s.queryRow(ctx, `SELECT id, username, first_name, active, created FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.Active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	u.Created = fromMillis(created)
	if u.Subscriptions, err = r.Subscriptions(ctx, id); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r userRepo) Subscribe(ctx context.Context, userID int64, sub domain.Subscription) (bool, error) {
	if userID == 0 {
		return false, &domain.MissingFieldError{Entity: "subscription", Field: "user_id"}
	}
	if err := sub.Validate(); err != nil {
		return false, err
	}
	var added bool
	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.s.q(`
INSERT INTO subscriptions (user_id, serial_id, title, created)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, serial_id) DO NOTHING`),
			userID, sub.SerialID, sub.Title, millis(time.Now()))
		if err != nil {
			return err
		}
		added = affected(res) > 0
		if !added {
			return nil
		}
		for _, v := range sub.ExcludedVoices {
			if err := insertExcluded(ctx, r.s, tx, userID, sub.SerialID, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("subscribe %d to %d: %w", userID, sub.SerialID, err)
	}
	return added, nil
}

func (r userRepo) Unsubscribe(ctx context.Context, userID, serialID int64) (bool, error) {
	var removed bool
	err := r.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM subscriptions WHERE user_id = ? AND serial_id = ?`), userID, serialID)
		if err != nil {
			return err
		}
		removed = affected(res) > 0
		_, err = tx.ExecContext(ctx, r.s.q(`DELETE FROM subscription_excluded_voices WHERE user_id = ? AND serial_id = ?`), userID, serialID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("unsubscribe %d from %d: %w", userID, serialID, err)
	}
	return removed, nil
}

func (r userRepo) SetVoiceExcluded(ctx context.Context, userID, serialID int64, voice string, excluded bool) error {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return &domain.MissingFieldError{Entity: "subscription", Field: "voice"}
	}
	var err error
	if excluded {
		err = insertExcluded(ctx, r.s, r.s.db, userID, serialID, voice)
	} else {
		_, err = r.s.exec(ctx, `DELETE FROM subscription_excluded_voices WHERE user_id = ? AND serial_id = ? AND voice = ?`,
			userID, serialID, voice)
	}
	if err != nil {
		return fmt.Errorf("set excluded voice %q for %d/%d: %w", voice, userID, serialID, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertExcluded only records a voice for an existing subscription.
func insertExcluded(ctx context.Context, s *sqlStore, ex execer, userID, serialID int64, voice string) error {
	_, err := ex.ExecContext(ctx, s.q(`
INSERT INTO subscription_excluded_voices (user_id, serial_id, voice)
SELECT user_id, serial_id, ? FROM subscriptions WHERE user_id = ? AND serial_id = ?
ON CONFLICT (user_id, serial_id, voice) DO NOTHING`),
		voice, userID, serialID)
	return err
}

func (r userRepo) Subscriptions(ctx context.Context, userID int64) ([]domain.Subscription, error) {
	rows, err := r.s.query(ctx, `
SELECT s.serial_id, s.title, v.voice
FROM subscriptions s
LEFT JOIN subscription_excluded_voices v ON v.user_id = s.user_id AND v.serial_id = s.serial_id
WHERE s.user_id = ?
ORDER BY s.created, s.serial_id, v.voice`, userID)
	if err != nil {
		return nil, fmt.Errorf("subscriptions of %d: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var (
			serialID int64
			title    string
			voice    sql.NullString
		)
		if err := rows.Scan(&serialID, &title, &voice); err != nil {
			return nil, fmt.Errorf("subscriptions of %d: %w", userID, err)
		}
		if n := len(out); n == 0 || out[n-1].SerialID != serialID {
			out = append(out, domain.Subscription{SerialID: serialID, Title: title})
		}
		if voice.Valid {
			last := &out[len(out)-1]
			last.ExcludedVoices = append(last.ExcludedVoices, voice.String)
		}
	}
	return out, rows.Err()
}

func (r userRepo) Subscribers(ctx context.Context, serialID int64) ([]domain.Subscriber, error) {
	rows, err := r.s.query(ctx, `
SELECT s.user_id, s.title, v.voice
FROM subscriptions s
JOIN users u ON u.id = s.user_id
LEFT JOIN subscription_excluded_voices v ON v.user_id = s.user_id AND v.serial_id = s.serial_id
WHERE s.serial_id = ? AND u.active = ?
ORDER BY s.user_id, v.voice`, serialID, true)
	if err != nil {
		return nil, fmt.Errorf("subscribers of %d: %w", serialID, err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var (
			userID int64
			title  string
			voice  sql.NullString
		)
		if err := rows.Scan(&userID, &title, &voice); err != nil {
			return nil, fmt.Errorf("subscribers of %d: %w", serialID, err)
		}
		if n := len(out); n == 0 || out[n-1].UserID != userID {
			out = append(out, domain.Subscriber{
				UserID:       userID,
				Subscription: domain.Subscription{SerialID: serialID, Title: title},
			})
		}
		if voice.Valid {
			last := &out[len(out)-1].Subscription
			last.ExcludedVoices = append(last.ExcludedVoices, voice.String)
		}
	}
	return out, rows.Err()
}
