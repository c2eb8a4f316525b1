package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medsociety/portal/internal/auth"
	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT rejects requests without a valid bearer token and sets user claims in context.
func JWT(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		claims, ok := parseBearer(v, header)
		if !ok {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// OptionalJWT sets user claims when a valid bearer token is present and lets guests through.
// A present but invalid token is rejected so a stale session is not silently treated as a guest.
func OptionalJWT(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		claims, ok := parseBearer(v, header)
		if !ok {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

func parseBearer(v TokenValidator, header string) (*auth.Claims, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, false
	}
	claims, err := v.Validate(parts[1])
	if err != nil {
		return nil, false
	}
	return claims, true
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextUserRole, claims.Role)
	c.Set(ContextUserEmail, claims.Email)
}

// UserID returns the authenticated user ID, if any.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// UserEmail returns the authenticated user's email.
func UserEmail(c *gin.Context) string {
	return c.GetString(ContextUserEmail)
}

// UserRole returns the authenticated user's role.
func UserRole(c *gin.Context) models.Role {
	v, _ := c.Get(ContextUserRole)
	role, _ := v.(models.Role)
	return role
}
