package models

import (
	"time"

	"github.com/google/uuid"
)

// Banner is a homepage banner image stored in S3.
type Banner struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	LinkURL   string    `json:"link_url,omitempty"`
	ImageURL  string    `json:"image_url"`
	S3Key     string    `json:"-"`
	Position  int       `json:"position"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
