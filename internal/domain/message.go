package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusReady Status = "READY"
	StatusDone  Status = "DONE"
	StatusError Status = "ERROR"
)

func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusDone, StatusError:
		return true
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusDone || s == StatusError }

// Message is an outbound queue entry. Rows are never deleted.
type Message struct {
	ID         string
	Recipient  int64
	Body       string
	Status     Status
	Error      string
	Created    time.Time
	LastUpdate time.Time
}

// NewMessage returns a READY message with a fresh id.
func NewMessage(recipient int64, body string) Message {
	m := Message{Recipient: recipient, Body: body}
	m.ApplyDefaults(time.Now())
	return m
}

// ApplyDefaults fills the fields that have defaults: id, status and timestamps.
func (m *Message) ApplyDefaults(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = StatusReady
	}
	if m.Created.IsZero() {
		m.Created = now
	}
	if m.LastUpdate.IsZero() {
		m.LastUpdate = m.Created
	}
}

// Validate checks required fields. Body may be blank here: an empty body is
// a delivery outcome, recorded on the row by the worker.
func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return missing("message", "id")
	}
	if m.Recipient == 0 {
		return missing("message", "recipient")
	}
	if !m.Status.Valid() {
		return missing("message", "status")
	}
	return nil
}
