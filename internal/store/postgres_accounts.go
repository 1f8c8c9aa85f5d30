package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, user_id, type, name, institution_id, account_number, balance, currency,
	external_account_id, brick_access_token, last_synced_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	var accountType string
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&accountType,
		&account.Name,
		&account.InstitutionID,
		&account.AccountNumber,
		&account.Balance,
		&account.Currency,
		&account.ExternalAccountID,
		&account.BrickAccessToken,
		&account.LastSyncedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	account.Type = domain.AccountType(accountType)
	return &account, nil
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	defer rows.Close()
	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// CreateAccount inserts a new account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	query := `
		INSERT INTO accounts (id, user_id, type, name, institution_id, account_number, balance, currency,
			external_account_id, brick_access_token, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID,
		account.UserID,
		string(account.Type),
		account.Name,
		account.InstitutionID,
		account.AccountNumber,
		account.Balance,
		account.Currency,
		account.ExternalAccountID,
		account.BrickAccessToken,
		account.LastSyncedAt,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolationOn(err, manualAccountNameIndex) {
		return ErrDuplicateAccount
	}
	return err
}

// FindAccountByID retrieves a single account.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

// LockAccount reads the account and holds a row lock until the surrounding transaction ends.
func (r *PostgresRepository) LockAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID))
}

// ListAccountsByUserID returns the user's accounts, optionally narrowed to one type.
func (r *PostgresRepository) ListAccountsByUserID(ctx context.Context, userID uuid.UUID, filter domain.AccountFilter) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	args := []any{userID}
	if filter.Type != nil {
		query += ` AND type = $2`
		args = append(args, string(*filter.Type))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// ListAutomaticAccounts returns every bank-fed account that has a Brick access token.
func (r *PostgresRepository) ListAutomaticAccounts(ctx context.Context) ([]domain.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE type IN ('debit', 'ewallet', 'paylater') AND brick_access_token IS NOT NULL
		ORDER BY last_synced_at ASC NULLS FIRST, id ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

// AccountNameExists checks for a same-named account of the same type, ignoring case.
func (r *PostgresRepository) AccountNameExists(ctx context.Context, userID uuid.UUID, accountType domain.AccountType, name string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1 AND type = $2 AND lower(name) = lower($3))`
	err := r.db.QueryRow(ctx, query, userID, string(accountType), strings.TrimSpace(name)).Scan(&exists)
	return exists, err
}

// FindAccountByExternalID looks up a linked bank account by Brick's account id.
func (r *PostgresRepository) FindAccountByExternalID(ctx context.Context, userID uuid.UUID, accountType domain.AccountType, externalAccountID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND type = $2 AND external_account_id = $3`
	return scanAccount(r.db.QueryRow(ctx, query, userID, string(accountType), externalAccountID))
}

// UpdateAccountBalance persists a new cached balance.
func (r *PostgresRepository) UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error {
	result, err := r.db.Exec(ctx, `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`, balance, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateAccountName renames an account.
func (r *PostgresRepository) UpdateAccountName(ctx context.Context, accountID uuid.UUID, name string) error {
	result, err := r.db.Exec(ctx, `UPDATE accounts SET name = $1, updated_at = NOW() WHERE id = $2`, name, accountID)
	if err != nil {
		if isUniqueViolationOn(err, manualAccountNameIndex) {
			return ErrDuplicateAccount
		}
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// MarkAccountSynced stores the balance reported by the bank feed and the sync time.
func (r *PostgresRepository) MarkAccountSynced(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error {
	query := `UPDATE accounts SET balance = $1, last_synced_at = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.Exec(ctx, query, balance, syncedAt, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes an account; its transactions go with it through ON DELETE CASCADE.
func (r *PostgresRepository) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
