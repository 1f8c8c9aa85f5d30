package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the polarity of a transaction relative to its account.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ParseDirection accepts "in"/"out" in any case.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(raw))) {
	case DirectionIn:
		return DirectionIn, nil
	case DirectionOut:
		return DirectionOut, nil
	}
	return "", fmt.Errorf("unknown direction %q", raw)
}

func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// TransactionType classifies a transaction for budgeting and insight.
type TransactionType string

const (
	TransactionTypeIncome    TransactionType = "INCOME"
	TransactionTypeExpense   TransactionType = "EXPENSE"
	TransactionTypeTransfer  TransactionType = "TRANSFER"
	TransactionTypeReconcile TransactionType = "RECONCILE"
	TransactionTypeUndefined TransactionType = "UNDEFINED"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeIncome, TransactionTypeExpense, TransactionTypeTransfer,
		TransactionTypeReconcile, TransactionTypeUndefined:
		return true
	}
	return false
}

// Category names used for synthetic breakdowns.
const (
	CategoryUndefined = "UNDEFINED"
	CategoryReconcile = "RECONCILE"
)

// NameAmount is one line of a category or tag breakdown.
type NameAmount struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Location is an optional geotag on a transaction.
type Location struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// Transaction is a single ledger entry. Maps to the `transactions` table.
type Transaction struct {
	ID                            uuid.UUID       `json:"id"`
	UserID                        uuid.UUID       `json:"user_id"`
	AccountID                     uuid.UUID       `json:"account_id"`
	AccountType                   AccountType     `json:"account_type"`
	Type                          TransactionType `json:"transaction_type"`
	Direction                     Direction       `json:"direction"`
	Amount                        decimal.Decimal `json:"amount"`
	Currency                      string          `json:"currency"`
	TransactionDate               time.Time       `json:"transaction_date"`
	Description                   string          `json:"description"`
	Category                      []NameAmount    `json:"category"`
	Tags                          []NameAmount    `json:"tags"`
	MerchantID                    *uuid.UUID      `json:"merchant_id,omitempty"`
	Location                      *Location       `json:"location,omitempty"`
	Notes                         *string         `json:"notes,omitempty"`
	IsHideFromBudget              bool            `json:"is_hide_from_budget"`
	IsHideFromInsight             bool            `json:"is_hide_from_insight"`
	InternalTransferTransactionID *uuid.UUID      `json:"internal_transfer_transaction_id,omitempty"`
	ExternalReferenceID           *string         `json:"external_reference_id,omitempty"`
	CreatedAt                     time.Time       `json:"created_at"`
	UpdatedAt                     time.Time       `json:"updated_at"`
}

// IsInternalTransfer reports whether the transaction is one leg of a linked transfer.
func (t *Transaction) IsInternalTransfer() bool {
	return t.InternalTransferTransactionID != nil
}

// ClearClassification wipes the fields that do not apply to a transfer leg.
func (t *Transaction) ClearClassification() {
	t.Category = nil
	t.MerchantID = nil
	t.Location = nil
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	UserID    uuid.UUID
	AccountID *uuid.UUID
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// CreateTransactionRequest is the DTO for user-entered transactions on manual accounts.
type CreateTransactionRequest struct {
	AccountID         uuid.UUID       `json:"account_id"`
	Type              TransactionType `json:"transaction_type"`
	Direction         Direction       `json:"direction"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	TransactionDate   *time.Time      `json:"transaction_date,omitempty"`
	Description       string          `json:"description"`
	Category          []NameAmount    `json:"category"`
	Tags              []NameAmount    `json:"tags"`
	MerchantID        *uuid.UUID      `json:"merchant_id,omitempty"`
	Location          *Location       `json:"location,omitempty"`
	Notes             *string         `json:"notes,omitempty"`
	IsHideFromBudget  bool            `json:"is_hide_from_budget"`
	IsHideFromInsight bool            `json:"is_hide_from_insight"`
}

// EditTransactionRequest is a merge patch: nil fields are left unchanged.
type EditTransactionRequest struct {
	Type              *TransactionType `json:"transaction_type,omitempty"`
	Direction         *Direction       `json:"direction,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	Currency          *string          `json:"currency,omitempty"`
	TransactionDate   *time.Time       `json:"transaction_date,omitempty"`
	Description       *string          `json:"description,omitempty"`
	Category          *[]NameAmount    `json:"category,omitempty"`
	Tags              *[]NameAmount    `json:"tags,omitempty"`
	MerchantID        *uuid.UUID       `json:"merchant_id,omitempty"`
	Location          *Location        `json:"location,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	IsHideFromBudget  *bool            `json:"is_hide_from_budget,omitempty"`
	IsHideFromInsight *bool            `json:"is_hide_from_insight,omitempty"`
}

// SelectInternalTransferRequest links an existing transaction on a bank-fed account.
type SelectInternalTransferRequest struct {
	ToTransactionID uuid.UUID `json:"to_transaction_id"`
}

// CreateInternalTransferRequest creates the incoming leg on a manual account.
type CreateInternalTransferRequest struct {
	ToAccountID uuid.UUID `json:"to_account_id"`
}

// InternalTransferResult returns both legs after linking.
type InternalTransferResult struct {
	From *Transaction `json:"from"`
	To   *Transaction `json:"to"`
}
