package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an authenticated Kudoku user. Maps to the `users` table.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PhoneNumber  *string   `json:"phone_number,omitempty"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     *string   `json:"last_name,omitempty"`
	BrickUserID  *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile holds the public-facing details of a user, one row per user.
type Profile struct {
	UserID            uuid.UUID  `json:"user_id"`
	DisplayName       string     `json:"display_name"`
	Bio               *string    `json:"bio,omitempty"`
	ProfilePictureURL *string    `json:"profile_picture_url,omitempty"`
	Birthday          *time.Time `json:"birthday,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SignupRequest is the DTO for creating a user.
type SignupRequest struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Password    string  `json:"password"`
	FirstName   string  `json:"first_name"`
	LastName    *string `json:"last_name,omitempty"`
	EmailOTP    string  `json:"email_otp,omitempty"`
}

// LoginRequest accepts either a username or an email in Login.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// AuthResult is returned by signup and login.
type AuthResult struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OTPChannel is the delivery channel for one-time codes.
type OTPChannel string

const (
	OTPChannelEmail OTPChannel = "email"
	OTPChannelSMS   OTPChannel = "sms"
)

// SendOTPRequest is the DTO for requesting a one-time code.
type SendOTPRequest struct {
	Channel OTPChannel `json:"channel"`
	To      string     `json:"to"`
}

// VerifyOTPRequest is the DTO for checking a one-time code.
type VerifyOTPRequest struct {
	To   string `json:"to"`
	Code string `json:"code"`
}

// UpdateProfileRequest is a merge patch for Profile.
type UpdateProfileRequest struct {
	DisplayName       *string    `json:"display_name,omitempty"`
	Bio               *string    `json:"bio,omitempty"`
	ProfilePictureURL *string    `json:"profile_picture_url,omitempty"`
	Birthday          *time.Time `json:"birthday,omitempty"`
}
