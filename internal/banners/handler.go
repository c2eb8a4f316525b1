package banners

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/response"
	"github.com/medsociety/portal/pkg/storage"
)

// Store is the banner persistence used by the handler.
type Store interface {
	Create(ctx context.Context, b *models.Banner) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Banner, error)
	List(ctx context.Context, activeOnly bool) ([]models.Banner, error)
	Update(ctx context.Context, id uuid.UUID, isActive bool, position int) (*models.Banner, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.Banner, error)
}

// ObjectStore holds banner images.
type ObjectStore interface {
	BannersBucket() string
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, publicRead bool) (string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}

// UpdateRequest is the body for PATCH /admin/banners/:id. Omitted fields keep their value.
type UpdateRequest struct {
	IsActive *bool `json:"is_active"`
	Position *int  `json:"position" binding:"omitempty,gte=0"`
}

// Handler handles banner endpoints.
type Handler struct {
	store   Store
	objects ObjectStore
	logger  *zap.Logger
}

// NewHandler creates a banner handler. objects may be nil when S3 is not configured.
func NewHandler(store Store, objects ObjectStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, objects: objects, logger: logger}
}

// ListActive handles GET /banners.
func (h *Handler) ListActive(c *gin.Context) {
	h.list(c, true)
}

// ListAll handles GET /admin/banners.
func (h *Handler) ListAll(c *gin.Context) {
	h.list(c, false)
}

func (h *Handler) list(c *gin.Context, activeOnly bool) {
	list, err := h.store.List(c.Request.Context(), activeOnly)
	if err != nil {
		h.logger.Error("list banners", zap.Error(err))
		response.Internal(c, "failed to list banners")
		return
	}
	if list == nil {
		list = []models.Banner{}
	}
	response.OK(c, list)
}

// Upload handles POST /admin/banners (multipart: file, title, link_url, position).
// The image goes to the public banners bucket before the row is written.
func (h *Handler) Upload(c *gin.Context) {
	if h.objects == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	title := c.PostForm("title")
	if title == "" {
		response.BadRequest(c, "title is required")
		return
	}
	position := 0
	if p := c.PostForm("position"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			response.BadRequest(c, "position must be a non-negative integer")
			return
		}
		position = n
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	contentType, err := storage.ContentType(storage.KindBanner, fh.Filename, fh.Size)
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

	key := storage.BannerKey(fh.Filename)
	url, err := h.objects.Upload(c.Request.Context(), h.objects.BannersBucket(), key, contentType, f, fh.Size, true)
	if err != nil {
		h.logger.Error("upload banner", zap.Error(err), zap.String("key", key))
		response.Internal(c, "failed to upload banner")
		return
	}
	b := &models.Banner{
		Title:    title,
		LinkURL:  c.PostForm("link_url"),
		ImageURL: url,
		S3Key:    key,
		Position: position,
		IsActive: true,
	}
	if err := h.store.Create(c.Request.Context(), b); err != nil {
		h.logger.Error("create banner", zap.Error(err))
		if derr := h.objects.DeleteObject(c.Request.Context(), h.objects.BannersBucket(), key); derr != nil {
			h.logger.Warn("remove orphaned banner image", zap.Error(derr), zap.String("key", key))
		}
		response.Internal(c, "failed to save banner")
		return
	}
	response.Created(c, b)
}

// Update handles PATCH /admin/banners/:id (toggle visibility, reorder).
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid banner id")
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cur, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "banner not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load banner")
		return
	}
	active, position := cur.IsActive, cur.Position
	if req.IsActive != nil {
		active = *req.IsActive
	}
	if req.Position != nil {
		position = *req.Position
	}
	b, err := h.store.Update(c.Request.Context(), id, active, position)
	if err != nil {
		h.logger.Error("update banner", zap.Error(err), zap.String("banner_id", id.String()))
		response.Internal(c, "failed to update banner")
		return
	}
	response.OK(c, b)
}

// Delete handles DELETE /admin/banners/:id and removes the image from storage.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid banner id")
		return
	}
	b, err := h.store.Delete(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "banner not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to delete banner")
		return
	}
	if h.objects != nil && b.S3Key != "" {
		if err := h.objects.DeleteObject(c.Request.Context(), h.objects.BannersBucket(), b.S3Key); err != nil {
			h.logger.Warn("delete banner image", zap.Error(err), zap.String("key", b.S3Key))
		}
	}
	response.NoContent(c)
}
