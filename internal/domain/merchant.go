package domain

import (
	"time"

	"github.com/google/uuid"
)

// Merchant is a shared catalogue entry that transactions can point at.
type Merchant struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	PictureURL *string   `json:"picture_url,omitempty"`
	URL        *string   `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MerchantRequest is used for both create and update; nil fields are left unchanged on update.
type MerchantRequest struct {
	Name       *string `json:"name,omitempty"`
	PictureURL *string `json:"picture_url,omitempty"`
	URL        *string `json:"url,omitempty"`
}
