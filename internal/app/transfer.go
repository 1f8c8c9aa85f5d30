package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/store"
)

// markTransferLeg retypes tx as one leg of an internal transfer. When tx lives on a
// manual account and its direction flips, the account balance is rebalanced; the
// account must already be locked by the caller when passed in.
func markTransferLeg(ctx context.Context, repo store.Repository, tx *domain.Transaction, direction domain.Direction, counterpartID uuid.UUID, account *domain.Account, events *pendingEvents) error {
	if account != nil && tx.AccountType.IsManual() && tx.Direction != direction {
		balance := domain.UpdateBalance(account.Balance, tx.Amount, tx.Direction, true)
		account.Balance = domain.UpdateBalance(balance, tx.Amount, direction, false)
		if err := repo.UpdateAccountBalance(ctx, account.ID, account.Balance); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		events.accountUpdated(account)
	}

	tx.Type = domain.TransactionTypeTransfer
	tx.Direction = direction
	tx.ClearClassification()
	linked := counterpartID
	tx.InternalTransferTransactionID = &linked
	if err := repo.UpdateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to link transfer leg: %w", err)
	}
	events.transactionChanged(domain.TransactionEdited, tx)
	return nil
}

// SelectInternalTransfer links an existing transaction as the incoming leg of a transfer
// whose outgoing leg is fromTransactionID. The target must be on a debit or e-wallet account.
func (s *Service) SelectInternalTransfer(ctx context.Context, userID, fromTransactionID uuid.UUID, req domain.SelectInternalTransferRequest) (*domain.InternalTransferResult, error) {
	if fromTransactionID == req.ToTransactionID {
		return nil, ErrTransferSameAccount
	}

	events := &pendingEvents{}
	var result *domain.InternalTransferResult
	err := s.repo.WithTx(ctx, func(repo store.Repository) error {
		locked, err := lockTransactions(ctx, repo, userID, fromTransactionID, req.ToTransactionID)
		if err != nil {
			return err
		}
		from, to := locked[fromTransactionID], locked[req.ToTransactionID]

		switch {
		case to.AccountType.IsManual():
			return ErrTransferTargetManual
		case to.AccountType == domain.AccountTypePayLater:
			return ErrTransferTargetUnsupported
		}
		if from.AccountID == to.AccountID {
			return ErrTransferSameAccount
		}
		if from.IsInternalTransfer() || to.IsInternalTransfer() {
			return ErrAlreadyLinked
		}

		var fromAccount *domain.Account
		if from.AccountType.IsManual() && from.Direction != domain.DirectionOut {
			if fromAccount, err = ownedAccount(ctx, repo, userID, from.AccountID, true); err != nil {
				return err
			}
		}

		if err := markTransferLeg(ctx, repo, from, domain.DirectionOut, to.ID, fromAccount, events); err != nil {
			return err
		}
		if err := markTransferLeg(ctx, repo, to, domain.DirectionIn, from.ID, nil, events); err != nil {
			return err
		}
		result = &domain.InternalTransferResult{From: from, To: to}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return result, nil
}

// CreateInternalTransfer creates the incoming leg on a cash or e-money account and
// links it to fromTransactionID as the outgoing leg.
func (s *Service) CreateInternalTransfer(ctx context.Context, userID, fromTransactionID uuid.UUID, req domain.CreateInternalTransferRequest) (*domain.InternalTransferResult, error) {
	events := &pendingEvents{}
	var result *domain.InternalTransferResult
	err := s.repo.WithTx(ctx, func(repo store.Repository) error {
		from, err := ownedTransaction(ctx, repo, userID, fromTransactionID, true)
		if err != nil {
			return err
		}
		if from.IsInternalTransfer() {
			return ErrAlreadyLinked
		}
		if from.AccountID == req.ToAccountID {
			return ErrTransferSameAccount
		}

		accounts, err := lockAccounts(ctx, repo, userID, from.AccountID, req.ToAccountID)
		if err != nil {
			return err
		}
		target := accounts[req.ToAccountID]
		if target.Type.IsAutomatic() {
			return ErrTransferTargetAutomatic
		}

		to := &domain.Transaction{
			ID:              uuid.New(),
			UserID:          userID,
			AccountID:       target.ID,
			AccountType:     target.Type,
			Type:            domain.TransactionTypeTransfer,
			Direction:       domain.DirectionIn,
			Amount:          from.Amount,
			Currency:        from.Currency,
			TransactionDate: from.TransactionDate,
			Description:     from.Description,
		}
		if err := repo.CreateTransaction(ctx, to); err != nil {
			return fmt.Errorf("failed to create transfer leg: %w", err)
		}
		target.Balance = domain.UpdateBalance(target.Balance, to.Amount, to.Direction, false)
		if err := repo.UpdateAccountBalance(ctx, target.ID, target.Balance); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		events.accountUpdated(target)

		if err := markTransferLeg(ctx, repo, from, domain.DirectionOut, to.ID, accounts[from.AccountID], events); err != nil {
			return err
		}

		linked := from.ID
		to.InternalTransferTransactionID = &linked
		if err := repo.UpdateTransaction(ctx, to); err != nil {
			return fmt.Errorf("failed to link transfer leg: %w", err)
		}
		events.transactionChanged(domain.TransactionAdded, to)

		result = &domain.InternalTransferResult{From: from, To: to}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return result, nil
}
