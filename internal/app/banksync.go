/**
 * @description
 * Bank feed synchronisation for automatic (debit, e-wallet, pay-later) accounts.
 * Brick is the source of truth for these accounts: new feed entries are inserted
 * once per external reference id and the balance is copied from Brick as-is.
 *
 * @notes
 * - Sync runs from the HTTP API, from the AMQP `bank.sync.requested` consumer and
 *   from the cron scheduler (which enqueues one message per account).
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/pkg/brickclient"
	"github.com/kudokuapp/kudoku-server/pkg/rabbitmq"
)

// SyncUserAccount syncs one of the caller's automatic accounts.
func (s *Service) SyncUserAccount(ctx context.Context, userID, accountID uuid.UUID) (*domain.Account, int, error) {
	if _, err := ownedAccount(ctx, s.repo, userID, accountID, false); err != nil {
		return nil, 0, err
	}
	inserted, err := s.SyncAccount(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	return account, inserted, nil
}

// SyncAccount pulls the feed since the last sync and returns how many new
// transactions were stored.
func (s *Service) SyncAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	if s.bank == nil {
		return 0, ErrProviderNotConfigured
	}
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !account.Type.IsAutomatic() {
		return 0, ErrNotAutomaticAccount
	}
	if account.BrickAccessToken == nil || *account.BrickAccessToken == "" || account.ExternalAccountID == nil {
		return 0, ErrAccountNotLinked
	}
	token := *account.BrickAccessToken

	now := s.now()
	from := now.Add(-s.opts.BankSyncLookback)
	if account.LastSyncedAt != nil {
		from = account.LastSyncedAt.UTC().Truncate(24 * time.Hour)
	}

	feed, err := s.bank.ListTransactions(ctx, token, from, now)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch bank feed: %w", err)
	}

	events := &pendingEvents{}
	inserted := 0
	for _, entry := range feed {
		if entry.AccountID != "" && entry.AccountID != *account.ExternalAccountID {
			continue
		}
		tx, err := s.feedTransaction(account, entry)
		if err != nil {
			log.Printf("level=warn component=banksync msg=\"skipping feed entry\" account_id=%s ref=%s err=%v", account.ID, entry.ReferenceID, err)
			continue
		}
		ok, err := s.repo.InsertFeedTransaction(ctx, tx)
		if err != nil {
			return inserted, fmt.Errorf("failed to store feed transaction: %w", err)
		}
		if ok {
			inserted++
			events.transactionChanged(domain.TransactionAdded, tx)
		}
	}

	balance := account.Balance
	bankAccounts, err := s.bank.ListAccounts(ctx, token)
	if err != nil {
		log.Printf("level=warn component=banksync msg=\"failed to refresh balance\" account_id=%s err=%v", account.ID, err)
	} else {
		for _, bankAccount := range bankAccounts {
			if bankAccount.AccountID == *account.ExternalAccountID {
				balance = bankAccount.Balances.Current
				break
			}
		}
	}

	if err := s.repo.MarkAccountSynced(ctx, account.ID, balance, now); err != nil {
		return inserted, fmt.Errorf("failed to mark account synced: %w", err)
	}
	account.Balance = balance
	account.LastSyncedAt = &now
	events.accountUpdated(account)
	s.publish(ctx, events)

	log.Printf("level=info component=banksync msg=\"account synced\" account_id=%s inserted=%d", account.ID, inserted)
	return inserted, nil
}

func (s *Service) feedTransaction(account *domain.Account, entry brickclient.Transaction) (*domain.Transaction, error) {
	reference := strings.TrimSpace(entry.ReferenceID)
	if reference == "" {
		reference = strings.TrimSpace(entry.ID)
	}
	if reference == "" {
		return nil, errors.New("feed entry has no reference id")
	}
	date, err := entry.ParsedDate()
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", entry.Date, err)
	}
	amount := entry.Amount.Abs()

	direction, txType := domain.DirectionOut, domain.TransactionTypeExpense
	if entry.IsIncoming() {
		direction, txType = domain.DirectionIn, domain.TransactionTypeIncome
	}
	return &domain.Transaction{
		ID:                  uuid.New(),
		UserID:              account.UserID,
		AccountID:           account.ID,
		AccountType:         account.Type,
		Type:                txType,
		Direction:           direction,
		Amount:              amount,
		Currency:            account.Currency,
		TransactionDate:     date.UTC(),
		Description:         strings.TrimSpace(entry.Description),
		Category:            []domain.NameAmount{{Name: domain.CategoryUndefined, Amount: amount}},
		ExternalReferenceID: &reference,
	}, nil
}

// SyncAllAutomaticAccounts syncs every linked account inline and reports the outcome.
func (s *Service) SyncAllAutomaticAccounts(ctx context.Context) (synced int, failed int) {
	accounts, err := s.repo.ListAutomaticAccounts(ctx)
	if err != nil {
		log.Printf("level=error component=banksync msg=\"failed to list automatic accounts\" err=%v", err)
		return 0, 0
	}
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.SyncAccount(ctx, account.ID); err != nil {
			failed++
			log.Printf("level=warn component=banksync msg=\"sync failed\" account_id=%s err=%v", account.ID, err)
			continue
		}
		synced++
	}
	return synced, failed
}

// EnqueueBankSyncs asks the bank-sync consumers to refresh every linked account. When
// the broker is unavailable the accounts are synced inline instead.
func (s *Service) EnqueueBankSyncs(ctx context.Context) (int, error) {
	accounts, err := s.repo.ListAutomaticAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list automatic accounts: %w", err)
	}

	enqueued := 0
	for _, account := range accounts {
		request := domain.BankSyncRequest{AccountID: account.ID, RequestedAt: s.now()}
		err := s.publisher.Publish(ctx, s.opts.EventsExchange, rabbitmq.RoutingKeyBankSyncRequested, request)
		if err == nil {
			enqueued++
			continue
		}
		if !errors.Is(err, rabbitmq.ErrUnavailable) {
			log.Printf("level=warn component=banksync msg=\"failed to enqueue sync; syncing inline\" account_id=%s err=%v", account.ID, err)
		}
		if _, err := s.SyncAccount(ctx, account.ID); err != nil {
			log.Printf("level=warn component=banksync msg=\"inline sync failed\" account_id=%s err=%v", account.ID, err)
		}
	}
	return enqueued, nil
}
