/**
 * @description
 * This file defines the account models for kudoku-server. A single `Account` struct
 * covers all five account variants; the `Type` field decides which rules apply
 * (manual accounts are edited by the user, automatic accounts are fed by Brick).
 *
 * @notes
 * - Balances are `decimal.Decimal` and travel over the wire as decimal strings so no
 *   floating-point rounding ever touches money.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType identifies which of the five account variants an account is.
type AccountType string

const (
	AccountTypeCash     AccountType = "cash"
	AccountTypeDebit    AccountType = "debit"
	AccountTypeEWallet  AccountType = "ewallet"
	AccountTypeEMoney   AccountType = "emoney"
	AccountTypePayLater AccountType = "paylater"
)

// AllAccountTypes lists every supported account type in display order.
var AllAccountTypes = []AccountType{
	AccountTypeCash,
	AccountTypeDebit,
	AccountTypeEWallet,
	AccountTypeEMoney,
	AccountTypePayLater,
}

// ParseAccountType normalizes user input such as "E-Wallet" or "PAY_LATER".
func ParseAccountType(raw string) (AccountType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)
	for _, t := range AllAccountTypes {
		if string(t) == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown account type %q", raw)
}

// Valid reports whether t is one of the supported account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeCash, AccountTypeDebit, AccountTypeEWallet, AccountTypeEMoney, AccountTypePayLater:
		return true
	}
	return false
}

// IsManual reports whether transactions on this account type are entered by the user.
func (t AccountType) IsManual() bool {
	return t == AccountTypeCash || t == AccountTypeEMoney
}

// IsAutomatic reports whether transactions on this account type come from the bank feed.
func (t AccountType) IsAutomatic() bool {
	return t == AccountTypeDebit || t == AccountTypeEWallet || t == AccountTypePayLater
}

// TopicPrefix is the camel-cased name used in pub/sub topics, e.g. "eWallet".
func (t AccountType) TopicPrefix() string {
	switch t {
	case AccountTypeEWallet:
		return "eWallet"
	case AccountTypeEMoney:
		return "eMoney"
	case AccountTypePayLater:
		return "payLater"
	default:
		return string(t)
	}
}

// Account is a balance-holding entity. Maps to the `accounts` table.
type Account struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	Type              AccountType     `json:"type"`
	Name              string          `json:"name"`
	InstitutionID     *int64          `json:"institution_id,omitempty"`
	AccountNumber     *string         `json:"account_number,omitempty"`
	Balance           decimal.Decimal `json:"balance"`
	Currency          string          `json:"currency"`
	ExternalAccountID *string         `json:"external_account_id,omitempty"`
	BrickAccessToken  *string         `json:"-"`
	LastSyncedAt      *time.Time      `json:"last_synced_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// AccountFilter narrows account listings.
type AccountFilter struct {
	Type *AccountType
}

// CreateManualAccountRequest is the DTO for creating a cash or e-money account.
type CreateManualAccountRequest struct {
	Type           string          `json:"type"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	AccountNumber  *string         `json:"account_number,omitempty"`
	InstitutionID  *int64          `json:"institution_id,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// LinkAutomaticAccountRequest is the DTO for connecting a bank feed through Brick.
type LinkAutomaticAccountRequest struct {
	Type          string `json:"type"`
	InstitutionID int64  `json:"institution_id"`
	Username      string `json:"username"`
	Password      string `json:"password"`
}

// ReconcileRequest carries the balance the user observed on the real account.
type ReconcileRequest struct {
	NewBalance decimal.Decimal `json:"new_balance"`
}

// RenameAccountRequest is the DTO for renaming an account.
type RenameAccountRequest struct {
	Name string `json:"name"`
}

// ReconcileResult is the account after reconciliation and the RECONCILE entry that explains it.
type ReconcileResult struct {
	Account     *Account     `json:"account"`
	Transaction *Transaction `json:"transaction"`
}
