package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/shopspring/decimal"
)

func validateScale(amounts ...decimal.Decimal) error {
	if err := domain.ValidateScale(amounts...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func validateBreakdown(amount decimal.Decimal, category, tags []domain.NameAmount) error {
	if err := domain.ValidateBreakdown(amount, category, tags); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// validateTransferLegTags checks only tags; transfer legs carry no category.
func validateTransferLegTags(amount decimal.Decimal, tags []domain.NameAmount) error {
	for _, tag := range tags {
		if strings.TrimSpace(tag.Name) == "" {
			return fmt.Errorf("%w: %w", ErrInvalidInput, domain.ErrEmptyBreakdownName)
		}
		if tag.Amount.IsNegative() {
			return fmt.Errorf("%w: %w", ErrInvalidInput, domain.ErrNegativeAmount)
		}
		if err := validateScale(tag.Amount); err != nil {
			return err
		}
	}
	if domain.SumAmounts(tags).GreaterThan(amount) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, domain.ErrTagSumExceeded)
	}
	return nil
}

func userTransactionType(t domain.TransactionType, direction domain.Direction) (domain.TransactionType, error) {
	switch t {
	case "":
		if direction == domain.DirectionIn {
			return domain.TransactionTypeIncome, nil
		}
		return domain.TransactionTypeExpense, nil
	case domain.TransactionTypeIncome, domain.TransactionTypeExpense, domain.TransactionTypeUndefined:
		return t, nil
	case domain.TransactionTypeTransfer, domain.TransactionTypeReconcile:
		return "", invalid("%s transactions are created through internal transfer or reconcile", t)
	}
	return "", invalid("unknown transaction type %q", t)
}

// CreateTransaction records a user-entered transaction on a manual account and
// applies its balance effect in the same unit of work.
func (s *Service) CreateTransaction(ctx context.Context, userID uuid.UUID, req domain.CreateTransactionRequest) (*domain.Transaction, error) {
	if !req.Direction.Valid() {
		return nil, invalid("direction must be IN or OUT")
	}
	txType, err := userTransactionType(req.Type, req.Direction)
	if err != nil {
		return nil, err
	}
	if err := validateBreakdown(req.Amount, req.Category, req.Tags); err != nil {
		return nil, err
	}
	if err := s.ensureMerchant(ctx, req.MerchantID); err != nil {
		return nil, err
	}

	date := s.now()
	if req.TransactionDate != nil {
		date = req.TransactionDate.UTC()
	}

	events := &pendingEvents{}
	var created *domain.Transaction
	err = s.repo.WithTx(ctx, func(repo store.Repository) error {
		account, err := ownedAccount(ctx, repo, userID, req.AccountID, true)
		if err != nil {
			return err
		}
		if !account.Type.IsManual() {
			return ErrAutomaticAccountReadOnly
		}

		tx := &domain.Transaction{
			ID:                uuid.New(),
			UserID:            userID,
			AccountID:         account.ID,
			AccountType:       account.Type,
			Type:              txType,
			Direction:         req.Direction,
			Amount:            req.Amount,
			Currency:          normalizeCurrency(req.Currency, account.Currency),
			TransactionDate:   date,
			Description:       strings.TrimSpace(req.Description),
			Category:          req.Category,
			Tags:              req.Tags,
			MerchantID:        req.MerchantID,
			Location:          req.Location,
			Notes:             req.Notes,
			IsHideFromBudget:  req.IsHideFromBudget,
			IsHideFromInsight: req.IsHideFromInsight,
		}
		if err := repo.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}

		account.Balance = domain.UpdateBalance(account.Balance, tx.Amount, tx.Direction, false)
		if err := repo.UpdateAccountBalance(ctx, account.ID, account.Balance); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		events.accountUpdated(account)
		events.transactionChanged(domain.TransactionAdded, tx)
		created = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return created, nil
}

// GetTransaction returns one of the caller's transactions.
func (s *Service) GetTransaction(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error) {
	return ownedTransaction(ctx, s.repo, userID, transactionID, false)
}

// ListTransactions lists the caller's transactions, optionally for one account.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	filter.UserID = userID
	if filter.AccountID != nil {
		if _, err := ownedAccount(ctx, s.repo, userID, *filter.AccountID, false); err != nil {
			return nil, err
		}
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, invalid("from must be before to")
	}
	return s.repo.ListTransactions(ctx, filter)
}

// EditTransaction applies a merge patch. When amount or direction of a manual-account
// transaction change, the old balance effect is reverted and the new one applied.
func (s *Service) EditTransaction(ctx context.Context, userID, transactionID uuid.UUID, req domain.EditTransactionRequest) (*domain.Transaction, error) {
	if err := s.ensureMerchant(ctx, req.MerchantID); err != nil {
		return nil, err
	}

	events := &pendingEvents{}
	var updated *domain.Transaction
	err := s.repo.WithTx(ctx, func(repo store.Repository) error {
		current, err := ownedTransaction(ctx, repo, userID, transactionID, true)
		if err != nil {
			return err
		}
		next := *current

		amountChanged := req.Amount != nil && !req.Amount.Equal(current.Amount)
		directionChanged := req.Direction != nil && *req.Direction != current.Direction
		typeChanged := req.Type != nil && *req.Type != current.Type

		if current.AccountType.IsAutomatic() && (amountChanged || directionChanged) {
			return ErrFeedOwnedField
		}
		if current.IsInternalTransfer() && (amountChanged || directionChanged || typeChanged || req.Category != nil) {
			return ErrTransferLegLocked
		}

		if req.Direction != nil {
			if !req.Direction.Valid() {
				return invalid("direction must be IN or OUT")
			}
			next.Direction = *req.Direction
		}
		if req.Amount != nil {
			next.Amount = *req.Amount
		}
		if typeChanged {
			txType, err := userTransactionType(*req.Type, next.Direction)
			if err != nil {
				return err
			}
			next.Type = txType
		} else if directionChanged && req.Type == nil &&
			(next.Type == domain.TransactionTypeIncome || next.Type == domain.TransactionTypeExpense) {
			next.Type, _ = userTransactionType("", next.Direction)
		}
		if req.Currency != nil {
			next.Currency = normalizeCurrency(*req.Currency, current.Currency)
		}
		if req.TransactionDate != nil {
			next.TransactionDate = req.TransactionDate.UTC()
		}
		if req.Description != nil {
			next.Description = strings.TrimSpace(*req.Description)
		}
		if req.Category != nil {
			next.Category = *req.Category
		}
		if req.Tags != nil {
			next.Tags = *req.Tags
		}
		if req.MerchantID != nil {
			next.MerchantID = req.MerchantID
		}
		if req.Location != nil {
			next.Location = req.Location
		}
		if req.Notes != nil {
			next.Notes = emptyToNil(*req.Notes)
		}
		if req.IsHideFromBudget != nil {
			next.IsHideFromBudget = *req.IsHideFromBudget
		}
		if req.IsHideFromInsight != nil {
			next.IsHideFromInsight = *req.IsHideFromInsight
		}

		if next.IsInternalTransfer() {
			if err := validateTransferLegTags(next.Amount, next.Tags); err != nil {
				return err
			}
		} else if amountChanged || req.Category != nil || req.Tags != nil {
			if err := validateBreakdown(next.Amount, next.Category, next.Tags); err != nil {
				return err
			}
		}

		if current.AccountType.IsManual() && (amountChanged || directionChanged) {
			account, err := ownedAccount(ctx, repo, userID, current.AccountID, true)
			if err != nil {
				return err
			}
			balance := domain.UpdateBalance(account.Balance, current.Amount, current.Direction, true)
			account.Balance = domain.UpdateBalance(balance, next.Amount, next.Direction, false)
			if err := repo.UpdateAccountBalance(ctx, account.ID, account.Balance); err != nil {
				return fmt.Errorf("failed to update balance: %w", err)
			}
			events.accountUpdated(account)
		}

		if err := repo.UpdateTransaction(ctx, &next); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		events.transactionChanged(domain.TransactionEdited, &next)
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return updated, nil
}

// DeleteTransaction removes a transaction, reverting its balance effect on manual
// accounts and unlinking its internal-transfer counterpart.
func (s *Service) DeleteTransaction(ctx context.Context, userID, transactionID uuid.UUID) error {
	events := &pendingEvents{}
	err := s.repo.WithTx(ctx, func(repo store.Repository) error {
		peek, err := ownedTransaction(ctx, repo, userID, transactionID, false)
		if err != nil {
			return err
		}
		ids := []uuid.UUID{peek.ID}
		if peek.InternalTransferTransactionID != nil {
			ids = append(ids, *peek.InternalTransferTransactionID)
		}
		locked, err := lockTransactions(ctx, repo, userID, ids...)
		if err != nil {
			return err
		}
		tx := locked[transactionID]

		if tx.InternalTransferTransactionID != nil {
			counterpart, ok := locked[*tx.InternalTransferTransactionID]
			if !ok {
				if counterpart, err = ownedTransaction(ctx, repo, userID, *tx.InternalTransferTransactionID, true); err != nil {
					return err
				}
			}
			counterpart.InternalTransferTransactionID = nil
			if err := repo.UpdateTransaction(ctx, counterpart); err != nil {
				return fmt.Errorf("failed to unlink transfer counterpart: %w", err)
			}
			events.transactionChanged(domain.TransactionEdited, counterpart)
		}

		if tx.AccountType.IsManual() {
			account, err := ownedAccount(ctx, repo, userID, tx.AccountID, true)
			if err != nil {
				return err
			}
			account.Balance = domain.UpdateBalance(account.Balance, tx.Amount, tx.Direction, true)
			if err := repo.UpdateAccountBalance(ctx, account.ID, account.Balance); err != nil {
				return fmt.Errorf("failed to update balance: %w", err)
			}
			events.accountUpdated(account)
		}

		if err := repo.DeleteTransaction(ctx, tx.ID); err != nil {
			return fmt.Errorf("failed to delete transaction: %w", err)
		}
		events.transactionChanged(domain.TransactionDeleted, tx)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events)
	return nil
}

// ReconcileAccount sets the balance to exactly newBalance and records the difference
// as a RECONCILE transaction hidden from budget and insight.
func (s *Service) ReconcileAccount(ctx context.Context, userID, accountID uuid.UUID, newBalance decimal.Decimal) (*domain.ReconcileResult, error) {
	events := &pendingEvents{}
	var result *domain.ReconcileResult
	err := s.repo.WithTx(ctx, func(repo store.Repository) error {
		account, err := ownedAccount(ctx, repo, userID, accountID, true)
		if err != nil {
			return err
		}
		tx, err := s.reconcileLocked(ctx, repo, account, newBalance, events)
		if err != nil {
			return err
		}
		result = &domain.ReconcileResult{Account: account, Transaction: tx}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return result, nil
}

// reconcileLocked expects account to be locked by the caller's unit of work.
func (s *Service) reconcileLocked(ctx context.Context, repo store.Repository, account *domain.Account, newBalance decimal.Decimal, events *pendingEvents) (*domain.Transaction, error) {
	if err := validateScale(newBalance); err != nil {
		return nil, err
	}
	if newBalance.Equal(account.Balance) {
		return nil, ErrReconcileNoop
	}
	delta, direction := domain.ReconcileDelta(account.Balance, newBalance)

	tx := &domain.Transaction{
		ID:                uuid.New(),
		UserID:            account.UserID,
		AccountID:         account.ID,
		AccountType:       account.Type,
		Type:              domain.TransactionTypeReconcile,
		Direction:         direction,
		Amount:            delta,
		Currency:          account.Currency,
		TransactionDate:   s.now(),
		Description:       "Reconcile",
		Category:          []domain.NameAmount{{Name: domain.CategoryReconcile, Amount: delta}},
		IsHideFromBudget:  true,
		IsHideFromInsight: true,
	}
	if err := repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create reconcile transaction: %w", err)
	}

	account.Balance = newBalance
	if err := repo.UpdateAccountBalance(ctx, account.ID, account.Balance); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	events.accountUpdated(account)
	events.transactionChanged(domain.TransactionAdded, tx)
	return tx, nil
}
