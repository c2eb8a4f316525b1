package auth

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/response"
)

// UserStore is the persistence the auth handler needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, p CreateUserParams) (*models.User, error)
	List(ctx context.Context) ([]models.UserPublic, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error)
}

// RegisterRequest is the body for POST /auth/register. New accounts are members.
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Phone     string `json:"phone"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth and user admin endpoints.
type Handler struct {
	users  UserStore
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(users UserStore, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}
	user, err := h.users.Create(c.Request.Context(), CreateUserParams{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		Role:         models.RoleMember,
	})
	if errors.Is(err, ErrEmailTaken) {
		response.Conflict(c, "email already registered")
		return
	}
	if err != nil {
		h.logger.Error("create user", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}
	token, err := h.jwt.Generate(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil || !CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	token, err := h.jwt.Generate(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// List handles GET /admin/users.
func (h *Handler) List(c *gin.Context) {
	list, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	response.OK(c, list)
}

// UpdateRoleRequest is the body for PATCH /admin/users/:id/role.
type UpdateRoleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

// UpdateRole handles PATCH /admin/users/:id/role.
func (h *Handler) UpdateRole(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Role.Valid() {
		response.BadRequest(c, "role must be admin or member")
		return
	}
	user, err := h.users.UpdateRole(c.Request.Context(), id, req.Role)
	if errors.Is(err, ErrUserNotFound) {
		response.NotFound(c, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("update role", zap.Error(err))
		response.Internal(c, "failed to update role")
		return
	}
	response.OK(c, user.ToPublic())
}
