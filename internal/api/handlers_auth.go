package api

import (
	"log"
	"net/http"

	"github.com/kudokuapp/kudoku-server/internal/domain"
)

func (h *Handlers) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if !decodeBody(w, r, "signup", &req) {
		return
	}

	result, err := h.service.Signup(r.Context(), req)
	if err != nil {
		writeServiceError(w, "signup", err)
		return
	}

	log.Printf("level=info component=api endpoint=signup outcome=created user_id=%s", result.User.ID)
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeBody(w, r, "login", &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) SendOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SendOTPRequest
	if !decodeBody(w, r, "otp_send", &req) {
		return
	}

	if err := h.service.SendOTP(r.Context(), req); err != nil {
		writeServiceError(w, "otp_send", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Verification code sent"})
}

func (h *Handlers) VerifyOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyOTPRequest
	if !decodeBody(w, r, "otp_verify", &req) {
		return
	}

	if err := h.service.VerifyOTP(r.Context(), req); err != nil {
		writeServiceError(w, "otp_verify", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// MeHandler returns the authenticated user.
func (h *Handlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.service.Me(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "get_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handlers) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req domain.UpdateProfileRequest
	if !decodeBody(w, r, "update_profile", &req) {
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, "update_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
