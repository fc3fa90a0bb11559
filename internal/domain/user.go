package domain

import (
	"strings"
	"time"
)

// User is a bot recipient. ID is the Telegram user id, which is also the
// private chat id messages are sent to.
type User struct {
	ID            int64
	Username      string
	FirstName     string
	Active        bool
	Created       time.Time
	Subscriptions []Subscription
}

func (u User) Validate() error {
	if u.ID == 0 {
		return missing("user", "id")
	}
	return nil
}

// Subscription ties a user to a serial. ExcludedVoices lists voice tracks the
// user does not want to hear about.
type Subscription struct {
	SerialID       int64
	Title          string
	ExcludedVoices []string
}

func (s Subscription) Validate() error {
	if s.SerialID <= 0 {
		return missing("subscription", "serial_id")
	}
	if strings.TrimSpace(s.Title) == "" {
		return missing("subscription", "title")
	}
	return nil
}

// Excludes reports whether an event with the given voice should be skipped.
// Events without a voice are never excluded.
func (s Subscription) Excludes(voice string) bool {
	if voice == "" {
		return false
	}
	for _, v := range s.ExcludedVoices {
		if strings.EqualFold(v, voice) {
			return true
		}
	}
	return false
}

// Subscriber is a fan-out target: the recipient plus the matching subscription.
type Subscriber struct {
	UserID       int64
	Subscription Subscription
}
