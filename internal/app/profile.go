package app

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
)

// GetProfile returns the caller's profile.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	return s.repo.FindProfileByUserID(ctx, userID)
}

// UpdateProfile applies a merge patch to the caller's profile.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, req domain.UpdateProfileRequest) (*domain.Profile, error) {
	profile, err := s.repo.FindProfileByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			return nil, invalid("display name must not be empty")
		}
		profile.DisplayName = name
	}
	if req.Bio != nil {
		profile.Bio = emptyToNil(*req.Bio)
	}
	if req.ProfilePictureURL != nil {
		profile.ProfilePictureURL = emptyToNil(*req.ProfilePictureURL)
	}
	if req.Birthday != nil {
		if req.Birthday.After(s.now()) {
			return nil, invalid("birthday must be in the past")
		}
		birthday := *req.Birthday
		profile.Birthday = &birthday
	}

	if err := s.repo.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func emptyToNil(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
