package app

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
)

const (
	defaultMerchantPageSize = 50
	maxMerchantPageSize     = 200
)

func normalizeOptionalURL(raw *string, field string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	value := emptyToNil(*raw)
	if value == nil {
		return nil, nil
	}
	parsed, err := url.Parse(*value)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, invalid("%s must be an http(s) URL", field)
	}
	return value, nil
}

// CreateMerchant adds a catalogue entry; names are unique case-insensitively.
func (s *Service) CreateMerchant(ctx context.Context, req domain.MerchantRequest) (*domain.Merchant, error) {
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return nil, invalid("merchant name is required")
	}
	picture, err := normalizeOptionalURL(req.PictureURL, "picture_url")
	if err != nil {
		return nil, err
	}
	link, err := normalizeOptionalURL(req.URL, "url")
	if err != nil {
		return nil, err
	}

	merchant := &domain.Merchant{
		ID:         uuid.New(),
		Name:       strings.TrimSpace(*req.Name),
		PictureURL: picture,
		URL:        link,
	}
	if err := s.repo.CreateMerchant(ctx, merchant); err != nil {
		return nil, err
	}
	return merchant, nil
}

func (s *Service) GetMerchant(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error) {
	return s.repo.FindMerchantByID(ctx, merchantID)
}

// ListMerchants searches by name substring; limit is clamped to [1, 200].
func (s *Service) ListMerchants(ctx context.Context, search string, limit, offset int) ([]domain.Merchant, error) {
	if limit <= 0 {
		limit = defaultMerchantPageSize
	}
	if limit > maxMerchantPageSize {
		limit = maxMerchantPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListMerchants(ctx, strings.TrimSpace(search), limit, offset)
}

func (s *Service) UpdateMerchant(ctx context.Context, merchantID uuid.UUID, req domain.MerchantRequest) (*domain.Merchant, error) {
	merchant, err := s.repo.FindMerchantByID(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalid("merchant name must not be empty")
		}
		merchant.Name = name
	}
	if req.PictureURL != nil {
		if merchant.PictureURL, err = normalizeOptionalURL(req.PictureURL, "picture_url"); err != nil {
			return nil, err
		}
	}
	if req.URL != nil {
		if merchant.URL, err = normalizeOptionalURL(req.URL, "url"); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateMerchant(ctx, merchant); err != nil {
		return nil, err
	}
	return merchant, nil
}

// DeleteMerchant removes the entry; transactions pointing at it keep their data with no merchant.
func (s *Service) DeleteMerchant(ctx context.Context, merchantID uuid.UUID) error {
	return s.repo.DeleteMerchant(ctx, merchantID)
}
