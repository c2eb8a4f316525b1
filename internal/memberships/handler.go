package memberships

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/middleware"
	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/response"
)

// ReviewRequest is the body for PATCH /admin/memberships/:id/review.
type ReviewRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// Handler handles membership endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a memberships handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		response.BadRequest(c, ve.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, ErrNotFound.Error())
	case errors.Is(err, ErrInvalidState):
		response.Conflict(c, ErrInvalidState.Error())
	default:
		h.logger.Error("membership request failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}

// Categories handles GET /memberships/categories.
func (h *Handler) Categories(c *gin.Context) {
	response.OK(c, h.svc.Categories())
}

// Apply handles POST /memberships.
func (h *Handler) Apply(c *gin.Context) {
	var in ApplyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var userID *uuid.UUID
	if id, ok := middleware.UserID(c); ok {
		userID = &id
	}
	a, err := h.svc.Apply(c.Request.Context(), userID, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, a)
}

// Get handles GET /memberships/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid application id")
		return
	}
	a, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, a)
}

// List handles GET /admin/memberships?status=.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), models.MembershipStatus(c.Query("status")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}

// Review handles PATCH /admin/memberships/:id/review.
func (h *Handler) Review(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid application id")
		return
	}
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "approve is required")
		return
	}
	reviewer, _ := middleware.UserID(c)
	a, err := h.svc.Review(c.Request.Context(), id, reviewer, *req.Approve)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, a)
}
