package registrations

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsociety/portal/internal/auth"
	"github.com/medsociety/portal/internal/middleware"
	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/response"
)

func newTestRouter(f *fixture, jwt *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, nil)
	r := gin.New()
	r.POST("/events/:id/registrations", middleware.OptionalJWT(jwt), h.Register)
	r.GET("/events/:id/registrations/check", h.Check)
	r.GET("/events/:id/registrations/me", middleware.JWT(jwt), h.Me)
	return r
}

func send(r http.Handler, method, path, token string, body interface{}) (*httptest.ResponseRecorder, response.Body) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out response.Body
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHandler_RegisterFlow(t *testing.T) {
	f := newFixture()
	jwt := auth.NewJWTService("secret", 1)
	r := newTestRouter(f, jwt)
	e := f.store.addEvent(&models.Event{Title: "Free talk", Capacity: ptr(1)})
	path := "/events/" + e.ID.String() + "/registrations"
	body := RegisterRequest{FirstName: "Amina", LastName: "Otieno", Email: "a@x.com"}

	w, out := send(r, http.MethodPost, path, "", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, out.Success)

	w, out = send(r, http.MethodPost, path, "", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.Notice)
	assert.Equal(t, map[string]interface{}{"registered": true, "payment_status": "COMPLETED"}, out.Data)

	body.Email = "b@x.com"
	w, out = send(r, http.MethodPost, path, "", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, out.Success)

	w, _ = send(r, http.MethodPost, "/events/"+uuid.NewString()+"/registrations", "", body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body.Email = "broken"
	w, _ = send(r, http.MethodPost, path, "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = send(r, http.MethodGet, path+"/check?email=A@x.com", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"registered": true}, out.Data)
}

func TestHandler_DeadlineIsGone(t *testing.T) {
	f := newFixture()
	r := newTestRouter(f, auth.NewJWTService("secret", 1))
	past := time.Now().Add(-time.Minute)
	e := f.store.addEvent(&models.Event{Title: "Closed", RegistrationDeadline: &past})

	w, _ := send(r, http.MethodPost, "/events/"+e.ID.String()+"/registrations", "", RegisterRequest{FirstName: "A", LastName: "B", Email: "a@x.com"})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestHandler_MemberRegistration(t *testing.T) {
	f := newFixture()
	jwt := auth.NewJWTService("secret", 1)
	r := newTestRouter(f, jwt)
	e := f.store.addEvent(&models.Event{Title: "Paid", MemberPriceCents: ptr(int64(1000)), NonMemberPriceCents: ptr(int64(2000))})
	user := &models.User{ID: uuid.New(), Email: "m@x.com", Role: models.RoleMember}
	token, err := jwt.Generate(user)
	require.NoError(t, err)
	path := "/events/" + e.ID.String() + "/registrations"
	body := RegisterRequest{FirstName: "M", LastName: "N", Email: "m@x.com", Phone: "+254711111111", PaymentMethod: models.PaymentMethodGateway}

	w, out := send(r, http.MethodPost, path, token, body)
	require.Equal(t, http.StatusCreated, w.Code)
	data := out.Data.(map[string]interface{})
	assert.Equal(t, float64(1000), data["amount_cents"])
	assert.Equal(t, "PENDING", data["payment_status"])
	regID := data["id"].(string)

	w, out = send(r, http.MethodGet, path+"/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"registered": true}, out.Data)

	// The owner gets the existing registration back so payment can be resumed.
	w, out = send(r, http.MethodPost, path, token, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, out.Notice)
	assert.Equal(t, regID, out.Data.(map[string]interface{})["id"])

	// A guest using the same email learns nothing about the registrant.
	w, out = send(r, http.MethodPost, path, "", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, out.Notice)
	assert.Equal(t, map[string]interface{}{"registered": true, "payment_status": "PENDING"}, out.Data)
	assert.NotContains(t, w.Body.String(), regID)
	assert.NotContains(t, w.Body.String(), "+254711111111")

	other, err := jwt.Generate(&models.User{ID: uuid.New(), Email: "o@x.com", Role: models.RoleMember})
	require.NoError(t, err)
	w, out = send(r, http.MethodPost, path, other, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), regID)
}
