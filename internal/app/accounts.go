package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/kudokuapp/kudoku-server/pkg/brickclient"
)

const maxAccountNameLength = 80

func normalizeAccountName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalid("account name is required")
	}
	if len(name) > maxAccountNameLength {
		return "", invalid("account name must be at most %d characters", maxAccountNameLength)
	}
	return name, nil
}

// CreateManualAccount opens a cash or e-money account. A non-zero opening balance is
// booked as a RECONCILE transaction so the balance always equals its ledger.
func (s *Service) CreateManualAccount(ctx context.Context, userID uuid.UUID, req domain.CreateManualAccountRequest) (*domain.Account, error) {
	accountType, err := domain.ParseAccountType(req.Type)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if !accountType.IsManual() {
		return nil, invalid("only cash and e-money accounts can be created manually")
	}
	name, err := normalizeAccountName(req.Name)
	if err != nil {
		return nil, err
	}
	if req.OpeningBalance.IsNegative() && accountType == domain.AccountTypeEMoney {
		return nil, invalid("e-money balance must not be negative")
	}
	if err := validateScale(req.OpeningBalance); err != nil {
		return nil, err
	}

	account := &domain.Account{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          accountType,
		Name:          name,
		InstitutionID: req.InstitutionID,
		AccountNumber: req.AccountNumber,
		Currency:      normalizeCurrency(req.Currency, s.opts.DefaultCurrency),
	}

	events := &pendingEvents{}
	err = s.repo.WithTx(ctx, func(repo store.Repository) error {
		exists, err := repo.AccountNameExists(ctx, userID, accountType, name)
		if err != nil {
			return fmt.Errorf("failed to check account name: %w", err)
		}
		if exists {
			return ErrDuplicateAccount
		}
		if err := repo.CreateAccount(ctx, account); err != nil {
			if errors.Is(err, store.ErrDuplicateAccount) {
				return ErrDuplicateAccount
			}
			return fmt.Errorf("failed to create account: %w", err)
		}
		if req.OpeningBalance.IsZero() {
			return nil
		}
		locked, err := repo.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if _, err := s.reconcileLocked(ctx, repo, locked, req.OpeningBalance, events); err != nil {
			return err
		}
		account = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=accounts msg=\"account created\" user_id=%s account_id=%s type=%s", userID, account.ID, account.Type)
	s.publish(ctx, events)
	return account, nil
}

// LinkAutomaticAccount logs in to the bank through Brick and creates one account per
// bank account returned, followed by an initial sync of each.
func (s *Service) LinkAutomaticAccount(ctx context.Context, userID uuid.UUID, req domain.LinkAutomaticAccountRequest) ([]domain.Account, error) {
	if s.bank == nil {
		return nil, ErrProviderNotConfigured
	}
	accountType, err := domain.ParseAccountType(req.Type)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if !accountType.IsAutomatic() {
		return nil, invalid("only debit, e-wallet and pay-later accounts can be linked")
	}
	if req.InstitutionID <= 0 || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, invalid("institution, username and password are required")
	}

	publicToken, err := s.bank.GetClientToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bank client token: %w", err)
	}
	login, err := s.bank.Login(ctx, publicToken, req.InstitutionID, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to log in to bank: %w", err)
	}
	bankAccounts, err := s.bank.ListAccounts(ctx, login.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	if login.UserID != "" {
		if err := s.repo.UpdateUserBrickID(ctx, userID, login.UserID); err != nil {
			log.Printf("level=warn component=accounts msg=\"failed to store brick user id\" user_id=%s err=%v", userID, err)
		}
	}

	institutionID := req.InstitutionID
	accessToken := login.AccessToken
	created := make([]domain.Account, 0, len(bankAccounts))
	events := &pendingEvents{}
	for _, bankAccount := range bankAccounts {
		account, err := s.createLinkedAccount(ctx, userID, accountType, institutionID, accessToken, bankAccount, events)
		if err != nil {
			return nil, err
		}
		if account != nil {
			created = append(created, *account)
		}
	}
	s.publish(ctx, events)

	if len(created) == 0 {
		return nil, ErrAlreadyLinked
	}

	for i := range created {
		if _, err := s.SyncAccount(ctx, created[i].ID); err != nil {
			log.Printf("level=warn component=accounts msg=\"initial bank sync failed\" account_id=%s err=%v", created[i].ID, err)
			continue
		}
		if refreshed, err := s.repo.FindAccountByID(ctx, created[i].ID); err == nil {
			created[i] = *refreshed
		}
	}

	log.Printf("level=info component=accounts msg=\"bank accounts linked\" user_id=%s type=%s count=%d", userID, accountType, len(created))
	return created, nil
}

// createLinkedAccount returns nil when the bank account is already linked.
func (s *Service) createLinkedAccount(ctx context.Context, userID uuid.UUID, accountType domain.AccountType, institutionID int64, accessToken string, bankAccount brickclient.Account, events *pendingEvents) (*domain.Account, error) {
	externalID := strings.TrimSpace(bankAccount.AccountID)
	if externalID == "" {
		return nil, nil
	}
	if _, err := s.repo.FindAccountByExternalID(ctx, userID, accountType, externalID); err == nil {
		return nil, nil
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to look up linked account: %w", err)
	}

	name := strings.TrimSpace(bankAccount.AccountHolder)
	if name == "" {
		name = string(accountType)
	}
	accountNumber := bankAccount.AccountNumber
	token := accessToken
	account := &domain.Account{
		ID:                uuid.New(),
		UserID:            userID,
		Type:              accountType,
		Name:              name,
		InstitutionID:     &institutionID,
		AccountNumber:     &accountNumber,
		Balance:           bankAccount.Balances.Current,
		Currency:          normalizeCurrency(bankAccount.Currency, s.opts.DefaultCurrency),
		ExternalAccountID: &externalID,
		BrickAccessToken:  &token,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create linked account: %w", err)
	}
	events.accountUpdated(account)
	return account, nil
}

// ListAccounts returns the caller's accounts, optionally of one type.
func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID, rawType string) ([]domain.Account, error) {
	filter := domain.AccountFilter{}
	if strings.TrimSpace(rawType) != "" {
		accountType, err := domain.ParseAccountType(rawType)
		if err != nil {
			return nil, invalid("%v", err)
		}
		filter.Type = &accountType
	}
	return s.repo.ListAccountsByUserID(ctx, userID, filter)
}

func (s *Service) GetAccount(ctx context.Context, userID, accountID uuid.UUID) (*domain.Account, error) {
	return ownedAccount(ctx, s.repo, userID, accountID, false)
}

// GetAccountByRef resolves an account from its decoded reference, checking the type matches.
func (s *Service) GetAccountByRef(ctx context.Context, userID uuid.UUID, accountType domain.AccountType, accountID uuid.UUID) (*domain.Account, error) {
	account, err := ownedAccount(ctx, s.repo, userID, accountID, false)
	if err != nil {
		return nil, err
	}
	if account.Type != accountType {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) RenameAccount(ctx context.Context, userID, accountID uuid.UUID, req domain.RenameAccountRequest) (*domain.Account, error) {
	name, err := normalizeAccountName(req.Name)
	if err != nil {
		return nil, err
	}

	events := &pendingEvents{}
	var account *domain.Account
	err = s.repo.WithTx(ctx, func(repo store.Repository) error {
		locked, err := ownedAccount(ctx, repo, userID, accountID, true)
		if err != nil {
			return err
		}
		account = locked
		if account.Name == name {
			return nil
		}
		if !strings.EqualFold(account.Name, name) {
			exists, err := repo.AccountNameExists(ctx, userID, account.Type, name)
			if err != nil {
				return fmt.Errorf("failed to check account name: %w", err)
			}
			if exists {
				return ErrDuplicateAccount
			}
		}
		if err := repo.UpdateAccountName(ctx, account.ID, name); err != nil {
			if errors.Is(err, store.ErrDuplicateAccount) {
				return ErrDuplicateAccount
			}
			return fmt.Errorf("failed to rename account: %w", err)
		}
		account.Name = name
		events.accountUpdated(account)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return account, nil
}

// DeleteAccount removes an account and its transactions. Transfer legs on other
// accounts that pointed into it are unlinked but otherwise kept.
func (s *Service) DeleteAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	events := &pendingEvents{}
	err := s.repo.WithTx(ctx, func(repo store.Repository) error {
		account, err := ownedAccount(ctx, repo, userID, accountID, true)
		if err != nil {
			return err
		}
		if err := repo.ClearInternalTransferLinksToAccount(ctx, account.ID); err != nil {
			return fmt.Errorf("failed to unlink transfers: %w", err)
		}
		if err := repo.DeleteAccount(ctx, account.ID); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		events.accountDeleted(account)
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("level=info component=accounts msg=\"account deleted\" user_id=%s account_id=%s", userID, accountID)
	s.publish(ctx, events)
	return nil
}

// ListInstitutions returns the banks and wallets Brick can connect to.
func (s *Service) ListInstitutions(ctx context.Context) ([]brickclient.Institution, error) {
	if s.bank == nil {
		return nil, ErrProviderNotConfigured
	}
	publicToken, err := s.bank.GetClientToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bank client token: %w", err)
	}
	return s.bank.ListInstitutions(ctx, publicToken)
}
