/**
 * @description
 * This file contains the core business logic for kudoku-server. The `Service`
 * struct orchestrates every ledger mutation, coordinating between the database
 * repository, the Brick bank-aggregation API, the OTP provider and the event bus.
 *
 * Key features:
 * - Every balance change is written in the same database transaction as the
 *   transaction record that caused it (`store.Repository.WithTx`).
 * - Account rows are locked (`SELECT ... FOR UPDATE`) before any read-modify-write
 *   of a balance, so concurrent edits on one account serialize.
 * - Account/transaction events are published only after the unit of work commits.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/eventbus: In-process pub/sub for live updates.
 * - pkg/brickclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/eventbus"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/kudokuapp/kudoku-server/pkg/brickclient"
	"github.com/kudokuapp/kudoku-server/pkg/rabbitmq"
)

var (
	ErrInvalidInput              = errors.New("invalid input")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrInvalidCredentials        = errors.New("invalid username, email or password")
	ErrOTPInvalid                = errors.New("verification code is invalid or expired")
	ErrRateLimited               = errors.New("too many requests")
	ErrProviderNotConfigured     = errors.New("external provider is not configured")
	ErrAutomaticAccountReadOnly  = errors.New("transactions on bank-fed accounts are managed by the feed")
	ErrFeedOwnedField            = errors.New("amount and direction of bank-fed transactions cannot be edited")
	ErrTransferLegLocked         = errors.New("type, direction, amount and category of an internal transfer leg cannot be edited")
	ErrReconcileNoop             = errors.New("new balance equals the current balance")
	ErrDuplicateAccount          = errors.New("an account with this name already exists")
	ErrNotAutomaticAccount       = errors.New("account is not bank-fed")
	ErrAccountNotLinked          = errors.New("account has no bank link")
	ErrAlreadyLinked             = errors.New("transaction is already part of an internal transfer")
	ErrTransferSameAccount       = errors.New("internal transfer legs must be on different accounts")
	ErrTransferTargetManual      = errors.New("selected transfer target must be on a debit or e-wallet account")
	ErrTransferTargetUnsupported = errors.New("pay-later transactions cannot be selected as a transfer target")
	ErrTransferTargetAutomatic   = errors.New("a transfer can only be created into a cash or e-money account")
	ErrBudgetPlanExceedsTotal    = errors.New("category plans must not exceed the total budget")
	ErrBudgetDuplicateCategory   = errors.New("category plans must have unique names")
	ErrMerchantReferenceNotFound = errors.New("referenced merchant does not exist")
)

// RateLimitError is returned when a caller exceeded a fixed-window limit.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests; retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// BankProvider is the subset of the Brick API the service relies on.
type BankProvider interface {
	GetClientToken(ctx context.Context) (string, error)
	ListInstitutions(ctx context.Context, publicToken string) ([]brickclient.Institution, error)
	Login(ctx context.Context, publicToken string, institutionID int64, username, password string) (*brickclient.LoginResult, error)
	ListAccounts(ctx context.Context, userToken string) ([]brickclient.Account, error)
	ListTransactions(ctx context.Context, userToken string, from, to time.Time) ([]brickclient.Transaction, error)
}

// OTPProvider sends and checks one-time codes.
type OTPProvider interface {
	Send(ctx context.Context, channel, to string) error
	Check(ctx context.Context, to, code string) (bool, error)
}

// RateLimiter counts hits per scope and subject inside a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Options tunes service behavior; zero values fall back to defaults.
type Options struct {
	EventsExchange   string
	DefaultCurrency  string
	BankSyncLookback time.Duration
	OTPRateLimit     int
	OTPRateWindow    time.Duration
	RequireSignupOTP bool
}

// Service provides the core business logic for kudoku-server.
type Service struct {
	repo        store.Repository
	bus         eventbus.Bus
	publisher   rabbitmq.Publisher
	bank        BankProvider
	otp         OTPProvider
	rateLimiter RateLimiter
	tokens      *SessionTokens
	opts        Options
	now         func() time.Time
}

// NewService creates a new service instance. bank and otp may be nil when the
// corresponding provider is not configured.
func NewService(repo store.Repository, bus eventbus.Bus, publisher rabbitmq.Publisher, bank BankProvider, otp OTPProvider, tokens *SessionTokens, opts Options) *Service {
	if opts.EventsExchange == "" {
		opts.EventsExchange = "kudoku_events"
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "IDR"
	}
	if opts.BankSyncLookback <= 0 {
		opts.BankSyncLookback = 30 * 24 * time.Hour
	}
	if opts.OTPRateWindow <= 0 {
		opts.OTPRateWindow = 10 * time.Minute
	}
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:      repo,
		bus:       bus,
		publisher: publisher,
		bank:      bank,
		otp:       otp,
		tokens:    tokens,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetRateLimiter wires an optional limiter for OTP sends.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// invalid wraps ErrInvalidInput with a human readable reason.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func normalizeCurrency(raw, fallback string) string {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		return fallback
	}
	return currency
}

// ownedAccount loads an account and hides accounts of other users behind ErrAccountNotFound.
func ownedAccount(ctx context.Context, repo store.Repository, userID, accountID uuid.UUID, lock bool) (*domain.Account, error) {
	var (
		account *domain.Account
		err     error
	)
	if lock {
		account, err = repo.LockAccount(ctx, accountID)
	} else {
		account, err = repo.FindAccountByID(ctx, accountID)
	}
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func ownedTransaction(ctx context.Context, repo store.Repository, userID, transactionID uuid.UUID, lock bool) (*domain.Transaction, error) {
	var (
		tx  *domain.Transaction
		err error
	)
	if lock {
		tx, err = repo.LockTransaction(ctx, transactionID)
	} else {
		tx, err = repo.FindTransactionByID(ctx, transactionID)
	}
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}

// lockAccounts locks the given accounts in ascending id order and returns them keyed by id.
func lockAccounts(ctx context.Context, repo store.Repository, userID uuid.UUID, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	sorted := uniqueSortedIDs(ids)
	locked := make(map[uuid.UUID]*domain.Account, len(sorted))
	for _, id := range sorted {
		account, err := ownedAccount(ctx, repo, userID, id, true)
		if err != nil {
			return nil, err
		}
		locked[id] = account
	}
	return locked, nil
}

// lockTransactions locks the given transactions in ascending id order.
func lockTransactions(ctx context.Context, repo store.Repository, userID uuid.UUID, ids ...uuid.UUID) (map[uuid.UUID]*domain.Transaction, error) {
	sorted := uniqueSortedIDs(ids)
	locked := make(map[uuid.UUID]*domain.Transaction, len(sorted))
	for _, id := range sorted {
		tx, err := ownedTransaction(ctx, repo, userID, id, true)
		if err != nil {
			return nil, err
		}
		locked[id] = tx
	}
	return locked, nil
}

func uniqueSortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Service) ensureMerchant(ctx context.Context, merchantID *uuid.UUID) error {
	if merchantID == nil {
		return nil
	}
	if _, err := s.repo.FindMerchantByID(ctx, *merchantID); err != nil {
		if errors.Is(err, store.ErrMerchantNotFound) {
			return ErrMerchantReferenceNotFound
		}
		return fmt.Errorf("failed to load merchant: %w", err)
	}
	return nil
}
