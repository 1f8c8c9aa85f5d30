package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/kudokuapp/kudoku-server/pkg/brickclient"
)

// AccountSyncer is the part of Service the bank-sync consumer drives.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, accountID uuid.UUID) (int, error)
}

// BankSyncConsumer handles `bank.sync.requested` messages.
type BankSyncConsumer struct {
	syncer  AccountSyncer
	timeout time.Duration
}

func NewBankSyncConsumer(syncer AccountSyncer) *BankSyncConsumer {
	return &BankSyncConsumer{syncer: syncer, timeout: 60 * time.Second}
}

// HandleMessage returns false only for failures worth retrying.
func (c *BankSyncConsumer) HandleMessage(body []byte) bool {
	var request domain.BankSyncRequest
	if err := json.Unmarshal(body, &request); err != nil {
		log.Printf("bank-sync-consumer: failed to unmarshal payload: %v", err)
		return true
	}
	if request.AccountID == uuid.Nil {
		log.Printf("bank-sync-consumer: missing account id in message %s", string(body))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := c.syncer.SyncAccount(ctx, request.AccountID); err != nil {
		if isPermanentSyncError(err) {
			log.Printf("bank-sync-consumer: dropping request for account %s: %v", request.AccountID, err)
			return true
		}
		log.Printf("bank-sync-consumer: sync error for account %s: %v", request.AccountID, err)
		return false
	}
	return true
}

func isPermanentSyncError(err error) bool {
	switch {
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, ErrNotAutomaticAccount),
		errors.Is(err, ErrAccountNotLinked),
		errors.Is(err, ErrProviderNotConfigured):
		return true
	}
	var apiErr *brickclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError &&
			apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
