package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	otpSendScope      = "otp_send"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._]{0,28}[a-z0-9])?$`)

func normalizeAndValidateUsernameInput(raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(raw))
	if username == "" {
		return "", invalid("username is required")
	}
	if !usernamePattern.MatchString(username) {
		return "", invalid("username may only contain letters, digits, dots and underscores and must start and end with a letter or digit")
	}
	return username, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		return "", invalid("email is not valid")
	}
	return email, nil
}

// Signup registers a user, creates an empty profile and returns a session.
func (s *Service) Signup(ctx context.Context, req domain.SignupRequest) (*domain.AuthResult, error) {
	username, err := normalizeAndValidateUsernameInput(req.Username)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, invalid("password must be at least %d characters", minPasswordLength)
	}
	firstName := strings.TrimSpace(req.FirstName)
	if firstName == "" {
		return nil, invalid("first name is required")
	}

	if s.opts.RequireSignupOTP {
		if s.otp == nil {
			return nil, ErrProviderNotConfigured
		}
		ok, err := s.otp.Check(ctx, email, strings.TrimSpace(req.EmailOTP))
		if err != nil {
			return nil, fmt.Errorf("failed to verify email code: %w", err)
		}
		if !ok {
			return nil, ErrOTPInvalid
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: string(hash),
		FirstName:    firstName,
		LastName:     req.LastName,
	}
	displayName := firstName
	if req.LastName != nil && strings.TrimSpace(*req.LastName) != "" {
		displayName = firstName + " " + strings.TrimSpace(*req.LastName)
	}

	err = s.repo.WithTx(ctx, func(repo store.Repository) error {
		if err := repo.CreateUser(ctx, user); err != nil {
			return err
		}
		return repo.CreateProfile(ctx, &domain.Profile{UserID: user.ID, DisplayName: displayName})
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("level=info component=auth msg=\"user signed up\" user_id=%s", user.ID)
	return s.session(user)
}

// Login accepts a username or an email and the password.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.AuthResult, error) {
	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.repo.FindUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *Service) session(user *domain.User) (*domain.AuthResult, error) {
	if s.tokens == nil {
		return nil, ErrProviderNotConfigured
	}
	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a bearer token to the id of an existing user.
func (s *Service) Authenticate(ctx context.Context, token string) (uuid.UUID, error) {
	if s.tokens == nil {
		return uuid.Nil, ErrUnauthorized
	}
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := s.repo.FindUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return uuid.Nil, ErrUnauthorized
		}
		return uuid.Nil, err
	}
	return userID, nil
}

// Me returns the authenticated user.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.repo.FindUserByID(ctx, userID)
}

// SendOTP delivers a one-time code, limited per destination.
func (s *Service) SendOTP(ctx context.Context, req domain.SendOTPRequest) error {
	if s.otp == nil {
		return ErrProviderNotConfigured
	}
	channel := domain.OTPChannel(strings.ToLower(strings.TrimSpace(string(req.Channel))))
	to := strings.TrimSpace(req.To)
	switch channel {
	case domain.OTPChannelEmail:
		email, err := normalizeEmail(to)
		if err != nil {
			return err
		}
		to = email
	case domain.OTPChannelSMS:
		if to == "" {
			return invalid("phone number is required")
		}
	default:
		return invalid("channel must be email or sms")
	}

	if s.rateLimiter != nil && s.opts.OTPRateLimit > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, otpSendScope, to, s.opts.OTPRateLimit, s.opts.OTPRateWindow)
		if err != nil {
			log.Printf("level=warn component=auth msg=\"otp rate limiter unavailable; allowing request\" err=%v", err)
		} else if count > s.opts.OTPRateLimit {
			return &RateLimitError{RetryAfterSeconds: retryAfter}
		}
	}

	if err := s.otp.Send(ctx, string(channel), to); err != nil {
		return fmt.Errorf("failed to send verification code: %w", err)
	}
	return nil
}

// VerifyOTP checks a code previously sent to the destination.
func (s *Service) VerifyOTP(ctx context.Context, req domain.VerifyOTPRequest) error {
	if s.otp == nil {
		return ErrProviderNotConfigured
	}
	to := strings.TrimSpace(req.To)
	code := strings.TrimSpace(req.Code)
	if to == "" || code == "" {
		return invalid("destination and code are required")
	}
	if strings.Contains(to, "@") {
		to = strings.ToLower(to)
	}
	ok, err := s.otp.Check(ctx, to, code)
	if err != nil {
		return fmt.Errorf("failed to verify code: %w", err)
	}
	if !ok {
		return ErrOTPInvalid
	}
	return nil
}
