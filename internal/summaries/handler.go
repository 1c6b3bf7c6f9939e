// Package summaries accepts class transcripts, turns them into Markdown
// summaries in the background and serves download links for the results.
package summaries

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zenro-academy/liveclass/pkg/queue"
	"github.com/zenro-academy/liveclass/pkg/response"
	"github.com/zenro-academy/liveclass/pkg/storage"
)

// Summarizer turns a transcript into a summary. It never fails; fallbacks are
// returned as text.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) string
}

// Enqueuer schedules summary jobs.
type Enqueuer interface {
	EnqueueSummary(ctx context.Context, payload queue.SummaryPayload) (string, error)
}

// Store persists summaries and hands out download links.
type Store interface {
	PutSummary(ctx context.Context, room, summaryID, markdown string) error
	SummaryURL(ctx context.Context, room, summaryID string) (string, error)
}

// CreateRequest is the body for POST /summaries.
type CreateRequest struct {
	Room       string `json:"room" binding:"required"`
	Topic      string `json:"topic"`
	Transcript string `json:"transcript" binding:"required"`
}

// Handler serves the summaries API. Queue and store are optional: without a
// queue summaries are generated inline, without a store nothing can be fetched.
type Handler struct {
	summarizer Summarizer
	queue      Enqueuer
	store      Store
	logger     *zap.Logger
}

// NewHandler creates a summaries handler.
func NewHandler(summarizer Summarizer, q Enqueuer, store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{summarizer: summarizer, queue: q, store: store, logger: logger}
}

// Create handles POST /summaries.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if h.queue == nil {
		response.OK(c, gin.H{"summary": h.summarizer.Summarize(c.Request.Context(), req.Transcript)})
		return
	}
	id, err := h.queue.EnqueueSummary(c.Request.Context(), queue.SummaryPayload{
		Room:       req.Room,
		Topic:      req.Topic,
		Transcript: req.Transcript,
	})
	if err != nil {
		h.logger.Error("enqueue summary", zap.Error(err), zap.String("room", req.Room))
		response.Internal(c, "failed to schedule summary")
		return
	}
	response.Accepted(c, gin.H{"job_id": id})
}

// Get handles GET /summaries/:room/:id.
func (h *Handler) Get(c *gin.Context) {
	if h.store == nil {
		response.ServiceUnavailable(c, "summary storage not configured")
		return
	}
	room, id := c.Param("room"), c.Param("id")
	url, err := h.store.SummaryURL(c.Request.Context(), room, id)
	if errors.Is(err, storage.ErrNotFound) {
		response.NotFound(c, "summary not found")
		return
	}
	if err != nil {
		h.logger.Error("summary url", zap.Error(err), zap.String("room", room), zap.String("summary_id", id))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url})
}
