package notify

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/internal/registrations"
	"github.com/medsociety/portal/pkg/queue"
	"github.com/medsociety/portal/pkg/response"
)

// LogStore lists delivery attempts.
type LogStore interface {
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.EmailLog, error)
}

// RegistrationLookup loads the registration an email is resent for.
type RegistrationLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Registration, error)
}

// Enqueuer queues email jobs.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Handler handles email log endpoints.
type Handler struct {
	logs   LogStore
	regs   RegistrationLookup
	queue  Enqueuer
	logger *zap.Logger
}

// NewHandler creates an email log handler. q may be nil when Redis is unavailable.
func NewHandler(logs LogStore, regs RegistrationLookup, q Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logs: logs, regs: regs, queue: q, logger: logger}
}

// ListByEvent handles GET /admin/events/:id/emails.
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	logs, err := h.logs.ListByEvent(c.Request.Context(), eventID)
	if err != nil {
		response.Internal(c, "failed to load email logs")
		return
	}
	if logs == nil {
		logs = []*models.EmailLog{}
	}
	response.OK(c, logs)
}

// ResendRequest is the body for POST /admin/events/:id/emails/resend.
type ResendRequest struct {
	RegistrationID string `json:"registration_id" binding:"required,uuid"`
}

// Resend handles POST /admin/events/:id/emails/resend. Only completed registrations
// have a confirmation to resend.
func (h *Handler) Resend(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var body ResendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "registration_id required")
		return
	}
	if h.queue == nil {
		response.ServiceUnavailable(c, "email queue is not configured")
		return
	}
	reg, err := h.regs.Get(c.Request.Context(), uuid.MustParse(body.RegistrationID))
	if errors.Is(err, registrations.ErrNotFound) || (err == nil && reg.EventID != eventID) {
		response.NotFound(c, "registration not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load registration")
		return
	}
	if reg.PaymentStatus != models.PaymentStatusCompleted {
		response.Conflict(c, "registration is not confirmed")
		return
	}
	if err := h.queue.EnqueueEmail(c.Request.Context(), registrations.ConfirmationEmail(reg)); err != nil {
		h.logger.Error("enqueue resend", zap.Error(err), zap.String("registration_id", reg.ID.String()))
		response.Internal(c, "failed to queue email")
		return
	}
	response.OK(c, gin.H{"message": "resend queued"})
}
