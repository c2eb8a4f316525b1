package events

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/middleware"
	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/response"
	"github.com/medsociety/portal/pkg/storage"
)

// Store is the event persistence used by the handler.
type Store interface {
	Create(ctx context.Context, e *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	List(ctx context.Context, upcomingOnly bool) ([]models.Event, error)
	Update(ctx context.Context, e *models.Event) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetMaterial(ctx context.Context, id uuid.UUID, key, url string) error
}

// ObjectStore uploads event materials.
type ObjectStore interface {
	MaterialsBucket() string
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, publicRead bool) (string, error)
	PresignedDownloadURL(ctx context.Context, bucket, key string) (string, error)
}

// EventRequest is the body for POST /admin/events and PATCH /admin/events/:id.
type EventRequest struct {
	Title                string  `json:"title" binding:"required"`
	Description          string  `json:"description"`
	Venue                string  `json:"venue"`
	StartsAt             string  `json:"starts_at" binding:"required"`
	EndsAt               *string `json:"ends_at"`
	Capacity             *int    `json:"capacity"`
	RegistrationDeadline *string `json:"registration_deadline"`
	MemberPriceCents     *int64  `json:"member_price_cents"`
	NonMemberPriceCents  *int64  `json:"non_member_price_cents"`
	Currency             string  `json:"currency"`
}

// Handler handles event catalog endpoints.
type Handler struct {
	store    Store
	objects  ObjectStore
	currency string
	logger   *zap.Logger
}

// NewHandler creates an events handler. objects may be nil when S3 is not configured.
func NewHandler(store Store, objects ObjectStore, defaultCurrency string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, objects: objects, currency: defaultCurrency, logger: logger}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// toEvent validates req and copies it into e.
func (h *Handler) toEvent(req *EventRequest, e *models.Event) error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	startsAt, err := parseTime(req.StartsAt)
	if err != nil {
		return errors.New("invalid starts_at")
	}
	endsAt, err := parseOptionalTime(req.EndsAt)
	if err != nil {
		return errors.New("invalid ends_at")
	}
	if endsAt != nil && endsAt.Before(startsAt) {
		return errors.New("ends_at must not be before starts_at")
	}
	deadline, err := parseOptionalTime(req.RegistrationDeadline)
	if err != nil {
		return errors.New("invalid registration_deadline")
	}
	if req.Capacity != nil && *req.Capacity < 1 {
		return errors.New("capacity must be at least 1")
	}
	if (req.MemberPriceCents != nil && *req.MemberPriceCents < 0) || (req.NonMemberPriceCents != nil && *req.NonMemberPriceCents < 0) {
		return errors.New("prices must not be negative")
	}
	e.Title = strings.TrimSpace(req.Title)
	e.Description = req.Description
	e.Venue = req.Venue
	e.StartsAt = startsAt
	e.EndsAt = endsAt
	e.Capacity = req.Capacity
	e.RegistrationDeadline = deadline
	e.MemberPriceCents = req.MemberPriceCents
	e.NonMemberPriceCents = req.NonMemberPriceCents
	e.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if e.Currency == "" {
		e.Currency = h.currency
	}
	return nil
}

// List handles GET /events. ?all=true includes past events.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context(), c.Query("all") != "true")
	if err != nil {
		h.logger.Error("list events", zap.Error(err))
		response.Internal(c, "failed to list events")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /events/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	e, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "event not found")
		return
	}
	if err != nil {
		h.logger.Error("get event", zap.Error(err))
		response.Internal(c, "failed to get event")
		return
	}
	response.OK(c, e)
}

// Create handles POST /admin/events.
func (h *Handler) Create(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var e models.Event
	if err := h.toEvent(&req, &e); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if uid, ok := middleware.UserID(c); ok {
		e.CreatedBy = &uid
	}
	if err := h.store.Create(c.Request.Context(), &e); err != nil {
		h.logger.Error("create event", zap.Error(err))
		response.Internal(c, "failed to create event")
		return
	}
	response.Created(c, e)
}

// Update handles PATCH /admin/events/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	e, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "event not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to get event")
		return
	}
	if err := h.toEvent(&req, e); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.store.Update(c.Request.Context(), e); err != nil {
		h.logger.Error("update event", zap.Error(err))
		response.Internal(c, "failed to update event")
		return
	}
	response.OK(c, e)
}

// Delete handles DELETE /admin/events/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "event not found")
			return
		}
		h.logger.Error("delete event", zap.Error(err))
		response.Internal(c, "failed to delete event")
		return
	}
	response.NoContent(c)
}

// UploadMaterial handles POST /admin/events/:id/material (multipart field "file").
func (h *Handler) UploadMaterial(c *gin.Context) {
	if h.objects == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	contentType, err := storage.ContentType(storage.KindMaterial, fh.Filename, fh.Size)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "cannot read file")
		return
	}
	defer f.Close()

	key := storage.MaterialKey(id.String(), fh.Filename)
	url, err := h.objects.Upload(c.Request.Context(), h.objects.MaterialsBucket(), key, contentType, f, fh.Size, false)
	if err != nil {
		h.logger.Error("upload material", zap.Error(err), zap.String("event_id", id.String()))
		response.Internal(c, "failed to upload material")
		return
	}
	if err := h.store.SetMaterial(c.Request.Context(), id, key, url); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "event not found")
			return
		}
		response.Internal(c, "failed to save material")
		return
	}
	response.Created(c, gin.H{"material_key": key})
}

// Material handles GET /events/:id/material, returning a short-lived download URL.
func (h *Handler) Material(c *gin.Context) {
	if h.objects == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	e, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "event not found")
		return
	}
	if e.MaterialKey == "" {
		response.NotFound(c, "event has no material")
		return
	}
	url, err := h.objects.PresignedDownloadURL(c.Request.Context(), h.objects.MaterialsBucket(), e.MaterialKey)
	if err != nil {
		h.logger.Error("presign material", zap.Error(err))
		response.Internal(c, "failed to sign download url")
		return
	}
	response.OK(c, gin.H{"url": url})
}
