package admin

import (
	"strings"
	"time"

	validation "github.com/jellydator/validation"

	"serialnotify/internal/domain"
	"serialnotify/internal/storage"
)

// MaxBodyLen is Telegram's text message limit.
const MaxBodyLen = 4096

type EnqueueRequest struct {
	Recipient int64  `json:"recipient"`
	Body      string `json:"body"`
}

// notBlank rejects whitespace-only strings.
var notBlank = validation.By(func(v any) error {
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return validation.NewError("validation_not_blank", "must not be blank")
	}
	return nil
})

func (r *EnqueueRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Recipient, validation.Required),
		validation.Field(&r.Body,
			validation.Required,
			notBlank,
			validation.RuneLength(1, MaxBodyLen),
		),
	)
}

type MessageResponse struct {
	ID         string    `json:"id"`
	Recipient  int64     `json:"recipient"`
	Body       string    `json:"body"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Created    time.Time `json:"created"`
	LastUpdate time.Time `json:"last_update"`
}

func mapMessage(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		Recipient:  m.Recipient,
		Body:       m.Body,
		Status:     string(m.Status),
		Error:      m.Error,
		Created:    m.Created.UTC(),
		LastUpdate: m.LastUpdate.UTC(),
	}
}

type ListResponse struct {
	Data []MessageResponse `json:"data"`
}

type StatsResponse struct {
	Counts map[string]int64 `json:"counts"`
	// OldestReady is the stalest last_update among READY rows. With the
	// refresher running it trails now by at most one refresh interval.
	OldestReady        *time.Time `json:"oldest_ready_last_update,omitempty"`
	OldestReadyCreated *time.Time `json:"oldest_ready_created,omitempty"`
	ReadyStaleSeconds  float64    `json:"ready_stale_seconds"`
}

func mapStats(st storage.QueueStats, now time.Time) StatsResponse {
	out := StatsResponse{Counts: map[string]int64{}}
	for _, s := range []domain.Status{domain.StatusReady, domain.StatusDone, domain.StatusError} {
		out.Counts[string(s)] = st.Counts[s]
	}
	if !st.OldestReady.IsZero() {
		t := st.OldestReady.UTC()
		out.OldestReady = &t
		out.ReadyStaleSeconds = now.Sub(st.OldestReady).Seconds()
	}
	if !st.OldestReadyCreated.IsZero() {
		t := st.OldestReadyCreated.UTC()
		out.OldestReadyCreated = &t
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
