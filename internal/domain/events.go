package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event kinds carried on transaction topics.
const (
	TransactionAdded   = "ADDED"
	TransactionEdited  = "EDITED"
	TransactionDeleted = "DELETED"
	AccountUpdated     = "UPDATED"
	AccountDeleted     = "DELETED"
)

// AccountUpdatedTopic is the topic fired whenever an account's balance or metadata changes,
// e.g. "cashAccountUpdated_<id>".
func AccountUpdatedTopic(accountType AccountType, accountID uuid.UUID) string {
	return fmt.Sprintf("%sAccountUpdated_%s", accountType.TopicPrefix(), accountID)
}

// TransactionChangedTopic is the topic fired for transaction add/edit/delete on an account.
func TransactionChangedTopic(accountID uuid.UUID) string {
	return fmt.Sprintf("transactionChanged_%s", accountID)
}

// TransactionEvent is the payload of a transaction topic.
type TransactionEvent struct {
	Kind        string       `json:"kind"`
	Transaction *Transaction `json:"transaction"`
}

// BankSyncRequest is the message consumed from the broker to refresh one automatic account.
type BankSyncRequest struct {
	AccountID   uuid.UUID `json:"account_id"`
	RequestedAt time.Time `json:"requested_at"`
}
