package registrations

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/middleware"
	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/response"
)

// RegisterRequest is the body for POST /events/:id/registrations. Field checks are done
// by the service so guests and members get the same validation errors.
type RegisterRequest struct {
	FirstName     string               `json:"first_name"`
	LastName      string               `json:"last_name"`
	Email         string               `json:"email"`
	Phone         string               `json:"phone"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
}

// Duplicate is what a caller who does not own an existing registration is told about it.
type Duplicate struct {
	Registered    bool                 `json:"registered"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

// AttendanceRequest is the body for PATCH /admin/registrations/:id/attendance.
type AttendanceRequest struct {
	Attended *bool `json:"attended" binding:"required"`
}

// Handler handles registration endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a registrations handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// CallerFrom builds the caller identity set by OptionalJWT or JWT; nil for guests.
func CallerFrom(c *gin.Context) *Caller {
	id, ok := middleware.UserID(c)
	if !ok {
		return nil
	}
	return &Caller{UserID: id, Email: middleware.UserEmail(c), Role: middleware.UserRole(c)}
}

// WriteError maps service errors onto the response envelope.
func WriteError(c *gin.Context, logger *zap.Logger, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		response.BadRequest(c, ve.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, ErrDeadlineExceeded):
		response.Gone(c, ErrDeadlineExceeded.Error())
	case errors.Is(err, ErrCapacityExceeded):
		response.Conflict(c, ErrCapacityExceeded.Error())
	case errors.Is(err, ErrFinalizationFailed):
		response.Internal(c, "Payment successful, registration failed. Please contact support with your payment reference.")
	default:
		logger.Error("registration request failed", zap.Error(err))
		response.Internal(c, "internal error")
	}
}

// Register handles POST /events/:id/registrations. Guests and signed-in members both land here.
func (h *Handler) Register(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	caller := CallerFrom(c)
	reg, err := h.svc.Register(c.Request.Context(), caller, RegisterInput{
		EventID:       eventID,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
		PaymentMethod: req.PaymentMethod,
	})
	if errors.Is(err, ErrAlreadyRegistered) {
		response.Notice(c, duplicateView(caller, reg), "You are already registered for this event.")
		return
	}
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.Created(c, reg)
}

// duplicateView returns the full registration only to the signed-in user who owns it. Anyone
// else registering with the same email learns only that it exists.
func duplicateView(caller *Caller, reg *models.Registration) interface{} {
	if reg == nil {
		return Duplicate{Registered: true}
	}
	if caller != nil && reg.UserID != nil && *reg.UserID == caller.UserID {
		return reg
	}
	return Duplicate{Registered: true, PaymentStatus: reg.PaymentStatus}
}

// Check handles GET /events/:id/registrations/check?email=.
func (h *Handler) Check(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	email := c.Query("email")
	if email == "" {
		response.BadRequest(c, "email is required")
		return
	}
	ok, err := h.svc.IsRegistered(c.Request.Context(), eventID, email)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"registered": ok})
}

// Me handles GET /events/:id/registrations/me.
func (h *Handler) Me(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	registered, err := h.svc.IsUserRegistered(c.Request.Context(), eventID, userID)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"registered": registered})
}

// ListByEvent handles GET /admin/events/:id/registrations.
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	list, err := h.svc.ListByEvent(c.Request.Context(), eventID)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// SetAttendance handles PATCH /admin/registrations/:id/attendance.
func (h *Handler) SetAttendance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return
	}
	var req AttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "attended is required")
		return
	}
	reg, err := h.svc.SetAttendance(c.Request.Context(), id, *req.Attended)
	if err != nil {
		WriteError(c, h.logger, err)
		return
	}
	response.OK(c, reg)
}
