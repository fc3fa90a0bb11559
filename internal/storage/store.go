// Package storage is the durable store shared by the scanner, the delivery
// worker and the bot: serial catalogue, users and subscriptions, the outbound
// message queue with its change feed, and the scan watermark.
//
// Every mutation is one conditional statement (or one transaction for batch
// enqueue), so concurrent writers never lose updates.
package storage

import (
	"context"
	"errors"
	"time"

	"serialnotify/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

type Store interface {
	Serials() SerialRepo
	Users() UserRepo
	Messages() MessageRepo
	Watermarks() WatermarkRepo

	Ping(ctx context.Context) error
	Close() error
}

type SerialRepo interface {
	// Upsert inserts or replaces a catalogue record by id.
	Upsert(ctx context.Context, s domain.Serial) error
	Get(ctx context.Context, id int64) (domain.Serial, error)
	Exists(ctx context.Context, id int64) (bool, error)
	// Search matches query against the lower-cased title fields. Only recent
	// (year >= 2017 or unknown) or unfinished serials are returned, newest
	// first. Page numbers start at 1.
	Search(ctx context.Context, query string, page, limit int) ([]domain.Serial, error)
}

type UserRepo interface {
	// Upsert creates the user or refreshes its profile fields.
	Upsert(ctx context.Context, u domain.User) error
	// Get returns the user with its subscriptions.
	Get(ctx context.Context, id int64) (domain.User, error)
	// Subscribe adds the subscription if absent. added is false when the user
	// already follows the serial.
	Subscribe(ctx context.Context, userID int64, sub domain.Subscription) (added bool, err error)
	Unsubscribe(ctx context.Context, userID, serialID int64) (removed bool, err error)
	// SetVoiceExcluded adds or removes one excluded voice track.
	SetVoiceExcluded(ctx context.Context, userID, serialID int64, voice string, excluded bool) error
	Subscriptions(ctx context.Context, userID int64) ([]domain.Subscription, error)
	// Subscribers resolves everyone subscribed to serialID, with the
	// subscription that matched.
	Subscribers(ctx context.Context, serialID int64) ([]domain.Subscriber, error)
}

type MessageRepo interface {
	Enqueue(ctx context.Context, m domain.Message) (domain.Message, error)
	// EnqueueBatch inserts all messages in one transaction.
	EnqueueBatch(ctx context.Context, msgs []domain.Message) error
	Get(ctx context.Context, id string) (domain.Message, error)
	List(ctx context.Context, q MessageQuery) ([]domain.Message, error)

	// Claim takes a delivery lease on a READY message whose lease is free or
	// expired. It does not touch status or last_update.
	Claim(ctx context.Context, id, owner string, now time.Time, lease time.Duration) (bool, error)
	// Release drops the lease held by owner, leaving the message READY.
	Release(ctx context.Context, id, owner string) error
	// Transition moves a READY message to a terminal status. It reports false
	// when the message was no longer READY.
	Transition(ctx context.Context, id string, to domain.Status, reason string, now time.Time) (bool, error)
	// TouchReady sets last_update on every READY message and nothing else.
	TouchReady(ctx context.Context, now time.Time) (int64, error)

	Stats(ctx context.Context) (QueueStats, error)

	// Watch streams changes to messages that match filter after the call,
	// until ctx ends.
	Watch(ctx context.Context, filter MessageFilter) (<-chan Change, error)
	// PruneChanges drops change records older than before.
	PruneChanges(ctx context.Context, before time.Time) (int64, error)
}

type WatermarkRepo interface {
	// Get returns an empty watermark before the first Set.
	Get(ctx context.Context) (domain.Watermark, error)
	Set(ctx context.Context, hash string) error
}

type MessageQuery struct {
	Status    domain.Status // empty means any
	Recipient int64         // 0 means any
	Limit     int
}

type QueueStats struct {
	Counts map[domain.Status]int64
	// OldestReady is the oldest last_update among READY messages. Since the
	// refresher keeps touching READY rows, a value far in the past means the
	// refresher is not running.
	OldestReady time.Time
	// OldestReadyCreated is the creation time of the oldest READY message.
	OldestReadyCreated time.Time
}

// Change is one write to the messages table. Old is nil for inserts.
type Change struct {
	Seq int64
	Old *domain.Message
	New *domain.Message
}

// MessageFilter selects changes by the message's new state.
type MessageFilter struct {
	Status domain.Status // empty means any
}

func (f MessageFilter) Match(m *domain.Message) bool {
	if m == nil {
		return false
	}
	return f.Status == "" || m.Status == f.Status
}
