// Package delivery drains READY messages to the messaging provider and keeps
// the queue's liveness timestamps fresh.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sender delivers one message body to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient int64, body string) error
}

// Permanent provider outcomes. Providers map their own errors onto these.
var (
	ErrBlocked      = errors.New("bot blocked by recipient")
	ErrChatNotFound = errors.New("chat not found")
	ErrDeactivated  = errors.New("recipient deactivated")
	ErrEmptyBody    = errors.New("empty message body")
)

// RateLimitError asks the caller to retry the same message after RetryAfter.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Reasons recorded in messages.error.
const (
	ReasonBlocked            = "blocked by user"
	ReasonChatNotFound       = "invalid user ID. ChatNotFound"
	ReasonDeactivated        = "user is deactivated"
	ReasonEmptyBody          = "Msg is empty"
	ReasonRateLimitExhausted = "rate limit retries exhausted"
)

type Class int

const (
	ClassDelivered Class = iota
	ClassPermanent
	ClassRateLimited
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassDelivered:
		return "delivered"
	case ClassPermanent:
		return "permanent"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// minRetryAfter applies when a provider asks for a retry without a delay.
const minRetryAfter = time.Second

// Classify maps a send result to its handling class. reason is set for
// permanent failures, retryAfter for rate limits.
func Classify(err error) (class Class, reason string, retryAfter time.Duration) {
	if err == nil {
		return ClassDelivered, "", 0
	}
	switch {
	case errors.Is(err, ErrBlocked):
		return ClassPermanent, ReasonBlocked, 0
	case errors.Is(err, ErrChatNotFound):
		return ClassPermanent, ReasonChatNotFound, 0
	case errors.Is(err, ErrDeactivated):
		return ClassPermanent, ReasonDeactivated, 0
	case errors.Is(err, ErrEmptyBody):
		return ClassPermanent, ReasonEmptyBody, 0
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		d := rl.RetryAfter
		if d < minRetryAfter {
			d = minRetryAfter
		}
		return ClassRateLimited, "", d
	}
	return ClassTransient, "", 0
}
