package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsociety/portal/internal/models"
)

type memStore struct {
	events map[uuid.UUID]*models.Event
}

func (m *memStore) Create(_ context.Context, e *models.Event) error {
	e.ID = uuid.New()
	m.events[e.ID] = e
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	if e, ok := m.events[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) List(context.Context, bool) ([]models.Event, error) {
	out := make([]models.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, *e)
	}
	return out, nil
}

func (m *memStore) Update(_ context.Context, e *models.Event) error {
	if _, ok := m.events[e.ID]; !ok {
		return ErrNotFound
	}
	m.events[e.ID] = e
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *memStore) SetMaterial(_ context.Context, id uuid.UUID, key, url string) error {
	e, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	e.MaterialKey, e.MaterialURL = key, url
	return nil
}

func setup() (*gin.Engine, *memStore) {
	gin.SetMode(gin.TestMode)
	store := &memStore{events: map[uuid.UUID]*models.Event{}}
	h := NewHandler(store, nil, "KES", nil)
	r := gin.New()
	r.GET("/events/:id", h.GetByID)
	r.POST("/admin/events", h.Create)
	r.DELETE("/admin/events/:id", h.Delete)
	r.GET("/events/:id/material", h.Material)
	return r, store
}

func postJSON(r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b)))
	return w
}

func TestCreate_Validation(t *testing.T) {
	r, store := setup()
	ends := "2026-01-01T00:00:00Z"
	zero := 0
	neg := int64(-5)

	tests := []struct {
		name string
		req  EventRequest
		code int
	}{
		{"ok", EventRequest{Title: "Annual Congress", StartsAt: "2026-06-01T09:00:00Z"}, http.StatusCreated},
		{"bad start", EventRequest{Title: "x", StartsAt: "tomorrow"}, http.StatusBadRequest},
		{"ends before start", EventRequest{Title: "x", StartsAt: "2026-06-01T09:00:00Z", EndsAt: &ends}, http.StatusBadRequest},
		{"zero capacity", EventRequest{Title: "x", StartsAt: "2026-06-01T09:00:00Z", Capacity: &zero}, http.StatusBadRequest},
		{"negative price", EventRequest{Title: "x", StartsAt: "2026-06-01T09:00:00Z", MemberPriceCents: &neg}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, postJSON(r, "/admin/events", tt.req).Code)
		})
	}
	require.Len(t, store.events, 1)
	for _, e := range store.events {
		assert.Equal(t, "KES", e.Currency)
	}
}

func TestGetAndDelete(t *testing.T) {
	r, store := setup()
	e := &models.Event{Title: "Workshop"}
	require.NoError(t, store.Create(context.Background(), e))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+e.ID.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/events/"+e.ID.String(), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+e.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMaterial_NoStorage(t *testing.T) {
	r, _ := setup()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+uuid.NewString()+"/material", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
