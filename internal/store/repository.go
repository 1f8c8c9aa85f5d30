/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by kudoku-server. By defining an interface,
 * we decouple the business logic from PostgreSQL, making the service layer easy to
 * test with in-memory fakes.
 *
 * @notes
 * - `WithTx` runs a unit of work: every repository call made through the repository
 *   handed to the callback shares one database transaction. Balance writes and the
 *   transaction-record writes that cause them must always go through it.
 * - `LockAccount` / `LockTransaction` take row locks (SELECT ... FOR UPDATE) and are only
 *   meaningful inside `WithTx`.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrDuplicateUser       = errors.New("username or email already registered")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrDuplicateAccount    = errors.New("account name already in use")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrMerchantNotFound    = errors.New("merchant not found")
	ErrDuplicateMerchant   = errors.New("merchant already exists")
	ErrBudgetNotFound      = errors.New("budget not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Unit of work
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	// User and profile methods
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByLogin(ctx context.Context, login string) (*domain.User, error)
	UpdateUserBrickID(ctx context.Context, userID uuid.UUID, brickUserID string) error
	CreateProfile(ctx context.Context, profile *domain.Profile) error
	FindProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, profile *domain.Profile) error

	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	LockAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	ListAccountsByUserID(ctx context.Context, userID uuid.UUID, filter domain.AccountFilter) ([]domain.Account, error)
	ListAutomaticAccounts(ctx context.Context) ([]domain.Account, error)
	AccountNameExists(ctx context.Context, userID uuid.UUID, accountType domain.AccountType, name string) (bool, error)
	FindAccountByExternalID(ctx context.Context, userID uuid.UUID, accountType domain.AccountType, externalAccountID string) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error
	UpdateAccountName(ctx context.Context, accountID uuid.UUID, name string) error
	MarkAccountSynced(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error
	DeleteAccount(ctx context.Context, accountID uuid.UUID) error

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	// InsertFeedTransaction inserts a bank-feed transaction unless one with the same
	// external reference already exists on the account. It reports whether a row was written.
	InsertFeedTransaction(ctx context.Context, tx *domain.Transaction) (bool, error)
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	LockTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error
	DeleteTransaction(ctx context.Context, transactionID uuid.UUID) error
	ClearInternalTransferLinksToAccount(ctx context.Context, accountID uuid.UUID) error
	SumSpendingByCategory(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.NameAmount, error)

	// Merchant methods
	CreateMerchant(ctx context.Context, merchant *domain.Merchant) error
	FindMerchantByID(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error)
	ListMerchants(ctx context.Context, search string, limit int, offset int) ([]domain.Merchant, error)
	UpdateMerchant(ctx context.Context, merchant *domain.Merchant) error
	DeleteMerchant(ctx context.Context, merchantID uuid.UUID) error

	// Budget methods
	CreateBudget(ctx context.Context, budget *domain.Budget) error
	FindBudgetByID(ctx context.Context, budgetID uuid.UUID) (*domain.Budget, error)
	ListBudgetsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Budget, error)
	UpdateBudget(ctx context.Context, budget *domain.Budget) error
	DeleteBudget(ctx context.Context, budgetID uuid.UUID) error
}
