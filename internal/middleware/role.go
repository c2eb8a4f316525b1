package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/response"
)

// RequireRole allows only the given roles. It must run after JWT.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextUserRole); !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if _, ok := allowed[UserRole(c)]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
