package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"serialnotify/internal/domain"
	"serialnotify/internal/storage"
	logx "serialnotify/pkg/logx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Handler struct {
	messages storage.MessageRepo
	log      logx.Logger
	now      func() time.Time
}

func NewHandler(messages storage.MessageRepo, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{messages: messages, log: log, now: time.Now}
}

// Enqueue adds a READY message.
// POST /api/v1/messages
func (h *Handler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.invalid(c, err)
		return
	}
	m, err := h.messages.Enqueue(c.Request.Context(), domain.NewMessage(req.Recipient, req.Body))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("message enqueued", logx.String("id", m.ID), logx.Int64("recipient", m.Recipient))
	c.JSON(http.StatusCreated, mapMessage(m))
}

// Get returns one message.
// GET /api/v1/messages/:id
func (h *Handler) Get(c *gin.Context) {
	m, err := h.messages.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mapMessage(m))
}

// List returns messages, oldest first.
// GET /api/v1/messages?status=READY&recipient=1&limit=50
func (h *Handler) List(c *gin.Context) {
	q, err := parseListQuery(c)
	if err != nil {
		h.invalid(c, err)
		return
	}
	msgs, err := h.messages.List(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := ListResponse{Data: make([]MessageResponse, 0, len(msgs))}
	for _, m := range msgs {
		out.Data = append(out.Data, mapMessage(m))
	}
	c.JSON(http.StatusOK, out)
}

func parseListQuery(c *gin.Context) (storage.MessageQuery, error) {
	q := storage.MessageQuery{Limit: defaultListLimit}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		q.Status = domain.Status(strings.ToUpper(raw))
		if !q.Status.Valid() {
			return q, fmt.Errorf("invalid status %q: must be READY, DONE or ERROR", raw)
		}
	}
	if raw := c.Query("recipient"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("invalid recipient parameter: must be an integer")
		}
		q.Recipient = id
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return q, fmt.Errorf("invalid limit parameter: must be between 1 and %d", maxListLimit)
		}
		q.Limit = n
	}
	return q, nil
}

// Stats reports queue depth by status.
// GET /api/v1/queue/stats
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.messages.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mapStats(st, h.now()))
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.log.Warn("bad request", logx.Err(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
}

func (h *Handler) invalid(c *gin.Context, err error) {
	h.log.Warn("validation failed", logx.Err(err))
	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_error", Message: err.Error()})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "The requested resource was not found"})
	case errors.Is(err, domain.ErrMissingField):
		h.invalid(c, err)
	default:
		h.log.Error("request failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "An internal error occurred"})
	}
}
