package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kudokuapp/kudoku-server/internal/domain"
)

const transactionColumns = `id, user_id, account_id, account_type, transaction_type, direction, amount, currency,
	transaction_date, description, category, tags, merchant_id, location, notes, is_hide_from_budget,
	is_hide_from_insight, internal_transfer_transaction_id, external_reference_id, created_at, updated_at`

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx              domain.Transaction
		accountType     string
		transactionType string
		direction       string
		categoryRaw     []byte
		tagsRaw         []byte
		locationRaw     []byte
	)
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.AccountID,
		&accountType,
		&transactionType,
		&direction,
		&tx.Amount,
		&tx.Currency,
		&tx.TransactionDate,
		&tx.Description,
		&categoryRaw,
		&tagsRaw,
		&tx.MerchantID,
		&locationRaw,
		&tx.Notes,
		&tx.IsHideFromBudget,
		&tx.IsHideFromInsight,
		&tx.InternalTransferTransactionID,
		&tx.ExternalReferenceID,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	tx.AccountType = domain.AccountType(accountType)
	tx.Type = domain.TransactionType(transactionType)
	tx.Direction = domain.Direction(direction)
	if tx.Category, err = unmarshalBreakdown(categoryRaw); err != nil {
		return nil, err
	}
	if tx.Tags, err = unmarshalBreakdown(tagsRaw); err != nil {
		return nil, err
	}
	if len(locationRaw) > 0 && string(locationRaw) != "null" {
		var location domain.Location
		if err := json.Unmarshal(locationRaw, &location); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		tx.Location = &location
	}
	return &tx, nil
}

type transactionJSONB struct {
	category string
	tags     string
	location *string
}

func encodeTransactionJSONB(tx *domain.Transaction) (transactionJSONB, error) {
	var encoded transactionJSONB
	var err error
	if encoded.category, err = marshalBreakdown(tx.Category); err != nil {
		return encoded, err
	}
	if encoded.tags, err = marshalBreakdown(tx.Tags); err != nil {
		return encoded, err
	}
	if tx.Location != nil {
		location, err := marshalJSONB(tx.Location)
		if err != nil {
			return encoded, err
		}
		encoded.location = &location
	}
	return encoded, nil
}

const insertTransactionSQL = `
	INSERT INTO transactions (id, user_id, account_id, account_type, transaction_type, direction, amount, currency,
		transaction_date, description, category, tags, merchant_id, location, notes, is_hide_from_budget,
		is_hide_from_insight, internal_transfer_transaction_id, external_reference_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13, $14::jsonb, $15, $16, $17, $18, $19)
`

func (r *PostgresRepository) insertTransaction(ctx context.Context, tx *domain.Transaction, suffix string) (pgx.Row, error) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	encoded, err := encodeTransactionJSONB(tx)
	if err != nil {
		return nil, err
	}
	return r.db.QueryRow(ctx, insertTransactionSQL+suffix,
		tx.ID,
		tx.UserID,
		tx.AccountID,
		string(tx.AccountType),
		string(tx.Type),
		string(tx.Direction),
		tx.Amount,
		tx.Currency,
		tx.TransactionDate,
		tx.Description,
		encoded.category,
		encoded.tags,
		tx.MerchantID,
		encoded.location,
		tx.Notes,
		tx.IsHideFromBudget,
		tx.IsHideFromInsight,
		tx.InternalTransferTransactionID,
		tx.ExternalReferenceID,
	), nil
}

// CreateTransaction inserts a ledger entry.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	row, err := r.insertTransaction(ctx, tx, ` RETURNING created_at, updated_at`)
	if err != nil {
		return err
	}
	return row.Scan(&tx.CreatedAt, &tx.UpdatedAt)
}

// InsertFeedTransaction is idempotent on (account_id, external_reference_id).
func (r *PostgresRepository) InsertFeedTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	row, err := r.insertTransaction(ctx, tx, `
		ON CONFLICT (account_id, external_reference_id) WHERE external_reference_id IS NOT NULL DO NOTHING
		RETURNING created_at, updated_at`)
	if err != nil {
		return false, err
	}
	if err := row.Scan(&tx.CreatedAt, &tx.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindTransactionByID retrieves a single transaction.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID))
}

// LockTransaction reads the transaction under a row lock.
func (r *PostgresRepository) LockTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, transactionID))
}

// ListTransactions returns the user's transactions, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{filter.UserID}
	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		query += fmt.Sprintf(` AND account_id = $%d`, len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(` AND transaction_date >= $%d`, len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(` AND transaction_date < $%d`, len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY transaction_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

// UpdateTransaction overwrites every mutable column of a transaction.
func (r *PostgresRepository) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	encoded, err := encodeTransactionJSONB(tx)
	if err != nil {
		return err
	}
	query := `
		UPDATE transactions
		SET transaction_type = $2, direction = $3, amount = $4, currency = $5, transaction_date = $6,
			description = $7, category = $8::jsonb, tags = $9::jsonb, merchant_id = $10, location = $11::jsonb,
			notes = $12, is_hide_from_budget = $13, is_hide_from_insight = $14,
			internal_transfer_transaction_id = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = r.db.QueryRow(ctx, query,
		tx.ID,
		string(tx.Type),
		string(tx.Direction),
		tx.Amount,
		tx.Currency,
		tx.TransactionDate,
		tx.Description,
		encoded.category,
		encoded.tags,
		tx.MerchantID,
		encoded.location,
		tx.Notes,
		tx.IsHideFromBudget,
		tx.IsHideFromInsight,
		tx.InternalTransferTransactionID,
	).Scan(&tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}
	return nil
}

// DeleteTransaction removes a transaction.
func (r *PostgresRepository) DeleteTransaction(ctx context.Context, transactionID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, transactionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// ClearInternalTransferLinksToAccount unlinks transfer legs on other accounts that point into accountID.
func (r *PostgresRepository) ClearInternalTransferLinksToAccount(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE transactions
		SET internal_transfer_transaction_id = NULL, updated_at = NOW()
		WHERE account_id <> $1
		  AND internal_transfer_transaction_id IN (SELECT id FROM transactions WHERE account_id = $1)
	`
	_, err := r.db.Exec(ctx, query, accountID)
	return err
}

// SumSpendingByCategory totals outgoing, budget-visible spend per category name in [from, to).
func (r *PostgresRepository) SumSpendingByCategory(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.NameAmount, error) {
	query := `
		SELECT item->>'name' AS name, COALESCE(SUM((item->>'amount')::numeric), 0) AS spent
		FROM transactions t
		CROSS JOIN LATERAL jsonb_array_elements(t.category) AS item
		WHERE t.user_id = $1
		  AND t.direction = 'OUT'
		  AND t.is_hide_from_budget = FALSE
		  AND t.transaction_type NOT IN ('TRANSFER', 'RECONCILE')
		  AND t.transaction_date >= $2
		  AND t.transaction_date < $3
		GROUP BY item->>'name'
		ORDER BY name ASC
	`
	rows, err := r.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.NameAmount, 0)
	for rows.Next() {
		var item domain.NameAmount
		if err := rows.Scan(&item.Name, &item.Amount); err != nil {
			return nil, err
		}
		totals = append(totals, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}
