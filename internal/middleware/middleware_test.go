package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsociety/portal/internal/auth"
	"github.com/medsociety/portal/internal/models"
)

func newRouter(jwt *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	whoami := func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.String(http.StatusOK, "guest")
			return
		}
		c.String(http.StatusOK, id.String())
	}
	r.GET("/optional", OptionalJWT(jwt), whoami)
	r.GET("/required", JWT(jwt), whoami)
	r.GET("/admin", JWT(jwt), RequireRole(models.RoleAdmin), whoami)
	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOptionalJWT(t *testing.T) {
	jwt := auth.NewJWTService("s", 1)
	r := newRouter(jwt)
	user := &models.User{ID: uuid.New(), Role: models.RoleMember}
	tok, err := jwt.Generate(user)
	require.NoError(t, err)

	w := do(r, "/optional", "")
	assert.Equal(t, "guest", w.Body.String())

	w = do(r, "/optional", tok)
	assert.Equal(t, user.ID.String(), w.Body.String())

	w = do(r, "/optional", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAndRole(t *testing.T) {
	jwt := auth.NewJWTService("s", 1)
	r := newRouter(jwt)
	member, _ := jwt.Generate(&models.User{ID: uuid.New(), Role: models.RoleMember})
	admin, _ := jwt.Generate(&models.User{ID: uuid.New(), Role: models.RoleAdmin})

	assert.Equal(t, http.StatusUnauthorized, do(r, "/required", "").Code)
	assert.Equal(t, http.StatusOK, do(r, "/required", member).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", member).Code)
	assert.Equal(t, http.StatusOK, do(r, "/admin", admin).Code)
}
