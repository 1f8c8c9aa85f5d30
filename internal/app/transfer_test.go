package app

import (
	"context"
	"errors"
	"testing"

	"github.com/kudokuapp/kudoku-server/internal/domain"
)

func TestSelectInternalTransfer_TargetRules(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.AccountType
		to      domain.AccountType
		wantErr error
	}{
		{name: "cash to emoney", from: domain.AccountTypeCash, to: domain.AccountTypeEMoney, wantErr: ErrTransferTargetManual},
		{name: "debit to cash", from: domain.AccountTypeDebit, to: domain.AccountTypeCash, wantErr: ErrTransferTargetManual},
		{name: "cash to paylater", from: domain.AccountTypeCash, to: domain.AccountTypePayLater, wantErr: ErrTransferTargetUnsupported},
		{name: "cash to debit", from: domain.AccountTypeCash, to: domain.AccountTypeDebit},
		{name: "debit to ewallet", from: domain.AccountTypeDebit, to: domain.AccountTypeEWallet},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			fromAccount := env.addAccount(t, tc.from, "1000")
			toAccount := env.addAccount(t, tc.to, "0")
			from := env.addTransaction(t, fromAccount, domain.DirectionOut, "100")
			to := env.addTransaction(t, toAccount, domain.DirectionIn, "100")

			_, err := env.svc.SelectInternalTransfer(context.Background(), env.userID, from.ID, domain.SelectInternalTransferRequest{ToTransactionID: to.ID})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if env.repo.transactions[from.ID].InternalTransferTransactionID != nil {
					t.Fatal("expected source to stay unlinked")
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectInternalTransfer returned error: %v", err)
			}
		})
	}
}

func TestSelectInternalTransfer_LinksBothLegs(t *testing.T) {
	env := newTestEnv(t)
	cash := env.addAccount(t, domain.AccountTypeCash, "900")
	debit := env.addAccount(t, domain.AccountTypeDebit, "5000")
	from := env.addTransaction(t, cash, domain.DirectionOut, "100")
	to := env.addTransaction(t, debit, domain.DirectionIn, "100")

	result, err := env.svc.SelectInternalTransfer(context.Background(), env.userID, from.ID, domain.SelectInternalTransferRequest{ToTransactionID: to.ID})
	if err != nil {
		t.Fatalf("SelectInternalTransfer returned error: %v", err)
	}

	storedFrom := env.repo.transactions[from.ID]
	storedTo := env.repo.transactions[to.ID]
	for _, leg := range []domain.Transaction{storedFrom, storedTo, *result.From, *result.To} {
		if leg.Type != domain.TransactionTypeTransfer {
			t.Fatalf("expected TRANSFER, got %s", leg.Type)
		}
		if leg.Category != nil || leg.MerchantID != nil || leg.Location != nil {
			t.Fatalf("expected classification to be cleared, got %+v", leg)
		}
	}
	if storedFrom.Direction != domain.DirectionOut || storedTo.Direction != domain.DirectionIn {
		t.Fatalf("expected OUT/IN, got %s/%s", storedFrom.Direction, storedTo.Direction)
	}
	if *storedFrom.InternalTransferTransactionID != to.ID || *storedTo.InternalTransferTransactionID != from.ID {
		t.Fatal("expected legs to reference each other")
	}
	assertBalance(t, env, cash.ID, "900")
	assertBalance(t, env, debit.ID, "5000")
}

func TestSelectInternalTransfer_ManualSourceDirectionFlipRebalances(t *testing.T) {
	env := newTestEnv(t)
	cash := env.addAccount(t, domain.AccountTypeCash, "1100")
	ewallet := env.addAccount(t, domain.AccountTypeEWallet, "0")
	from := env.addTransaction(t, cash, domain.DirectionIn, "100")
	to := env.addTransaction(t, ewallet, domain.DirectionIn, "100")

	if _, err := env.svc.SelectInternalTransfer(context.Background(), env.userID, from.ID, domain.SelectInternalTransferRequest{ToTransactionID: to.ID}); err != nil {
		t.Fatalf("SelectInternalTransfer returned error: %v", err)
	}
	assertBalance(t, env, cash.ID, "900")
}

func TestSelectInternalTransfer_AlreadyLinked(t *testing.T) {
	env := newTestEnv(t)
	cash := env.addAccount(t, domain.AccountTypeCash, "900")
	debit := env.addAccount(t, domain.AccountTypeDebit, "0")
	from := env.addTransaction(t, cash, domain.DirectionOut, "100")
	to := env.addTransaction(t, debit, domain.DirectionIn, "100")
	other := env.addTransaction(t, debit, domain.DirectionIn, "100")
	ctx := context.Background()

	if _, err := env.svc.SelectInternalTransfer(ctx, env.userID, from.ID, domain.SelectInternalTransferRequest{ToTransactionID: to.ID}); err != nil {
		t.Fatalf("SelectInternalTransfer returned error: %v", err)
	}
	_, err := env.svc.SelectInternalTransfer(ctx, env.userID, from.ID, domain.SelectInternalTransferRequest{ToTransactionID: other.ID})
	if !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked, got %v", err)
	}
}

func TestSelectInternalTransfer_SameTransactionOrAccount(t *testing.T) {
	env := newTestEnv(t)
	debit := env.addAccount(t, domain.AccountTypeDebit, "0")
	a := env.addTransaction(t, debit, domain.DirectionOut, "100")
	b := env.addTransaction(t, debit, domain.DirectionIn, "100")
	ctx := context.Background()

	if _, err := env.svc.SelectInternalTransfer(ctx, env.userID, a.ID, domain.SelectInternalTransferRequest{ToTransactionID: a.ID}); !errors.Is(err, ErrTransferSameAccount) {
		t.Fatalf("expected ErrTransferSameAccount for same transaction, got %v", err)
	}
	if _, err := env.svc.SelectInternalTransfer(ctx, env.userID, a.ID, domain.SelectInternalTransferRequest{ToTransactionID: b.ID}); !errors.Is(err, ErrTransferSameAccount) {
		t.Fatalf("expected ErrTransferSameAccount for same account, got %v", err)
	}
}

func TestCreateInternalTransfer_RejectsAutomaticTarget(t *testing.T) {
	for _, target := range []domain.AccountType{domain.AccountTypeDebit, domain.AccountTypeEWallet, domain.AccountTypePayLater} {
		t.Run(string(target), func(t *testing.T) {
			env := newTestEnv(t)
			cash := env.addAccount(t, domain.AccountTypeCash, "900")
			automatic := env.addAccount(t, target, "0")
			from := env.addTransaction(t, cash, domain.DirectionOut, "100")

			_, err := env.svc.CreateInternalTransfer(context.Background(), env.userID, from.ID, domain.CreateInternalTransferRequest{ToAccountID: automatic.ID})
			if !errors.Is(err, ErrTransferTargetAutomatic) {
				t.Fatalf("expected ErrTransferTargetAutomatic, got %v", err)
			}
			if len(env.repo.transactions) != 1 {
				t.Fatalf("expected no new transaction, got %d", len(env.repo.transactions))
			}
		})
	}
}

func TestCreateInternalTransfer_MirrorsSourceOntoManualAccount(t *testing.T) {
	env := newTestEnv(t)
	debit := env.addAccount(t, domain.AccountTypeDebit, "5000")
	emoney := env.addAccount(t, domain.AccountTypeEMoney, "20")
	from := env.addTransaction(t, debit, domain.DirectionOut, "100")

	result, err := env.svc.CreateInternalTransfer(context.Background(), env.userID, from.ID, domain.CreateInternalTransferRequest{ToAccountID: emoney.ID})
	if err != nil {
		t.Fatalf("CreateInternalTransfer returned error: %v", err)
	}

	to := env.repo.transactions[result.To.ID]
	if to.AccountID != emoney.ID || to.Direction != domain.DirectionIn || to.Type != domain.TransactionTypeTransfer {
		t.Fatalf("unexpected mirror leg: %+v", to)
	}
	if !to.Amount.Equal(from.Amount) || to.Currency != from.Currency || !to.TransactionDate.Equal(from.TransactionDate) {
		t.Fatalf("expected mirror of source, got %+v", to)
	}
	if to.InternalTransferTransactionID == nil || *to.InternalTransferTransactionID != from.ID {
		t.Fatal("expected mirror leg to reference the source")
	}
	source := env.repo.transactions[from.ID]
	if source.InternalTransferTransactionID == nil || *source.InternalTransferTransactionID != to.ID {
		t.Fatal("expected source to reference the mirror leg")
	}
	if source.Type != domain.TransactionTypeTransfer || source.Category != nil {
		t.Fatalf("expected source retyped as transfer, got %+v", source)
	}
	assertBalance(t, env, emoney.ID, "120")
	assertBalance(t, env, debit.ID, "5000")
}

func TestDeleteTransferLeg_UnlinksCounterpart(t *testing.T) {
	env := newTestEnv(t)
	cash := env.addAccount(t, domain.AccountTypeCash, "900")
	emoney := env.addAccount(t, domain.AccountTypeEMoney, "0")
	from := env.addTransaction(t, cash, domain.DirectionOut, "100")
	ctx := context.Background()

	result, err := env.svc.CreateInternalTransfer(ctx, env.userID, from.ID, domain.CreateInternalTransferRequest{ToAccountID: emoney.ID})
	if err != nil {
		t.Fatalf("CreateInternalTransfer returned error: %v", err)
	}
	assertBalance(t, env, emoney.ID, "100")

	if err := env.svc.DeleteTransaction(ctx, env.userID, result.To.ID); err != nil {
		t.Fatalf("DeleteTransaction returned error: %v", err)
	}
	assertBalance(t, env, emoney.ID, "0")
	assertBalance(t, env, cash.ID, "900")
	if env.repo.transactions[from.ID].InternalTransferTransactionID != nil {
		t.Fatal("expected source leg to be unlinked")
	}
}

func TestEditTransferLeg_LockedFields(t *testing.T) {
	env := newTestEnv(t)
	cash := env.addAccount(t, domain.AccountTypeCash, "900")
	emoney := env.addAccount(t, domain.AccountTypeEMoney, "0")
	from := env.addTransaction(t, cash, domain.DirectionOut, "100")
	ctx := context.Background()

	if _, err := env.svc.CreateInternalTransfer(ctx, env.userID, from.ID, domain.CreateInternalTransferRequest{ToAccountID: emoney.ID}); err != nil {
		t.Fatalf("CreateInternalTransfer returned error: %v", err)
	}

	amount := dec(t, "50")
	if _, err := env.svc.EditTransaction(ctx, env.userID, from.ID, domain.EditTransactionRequest{Amount: &amount}); !errors.Is(err, ErrTransferLegLocked) {
		t.Fatalf("expected ErrTransferLegLocked, got %v", err)
	}

	tags := []domain.NameAmount{{Name: "savings", Amount: dec(t, "100")}}
	edited, err := env.svc.EditTransaction(ctx, env.userID, from.ID, domain.EditTransactionRequest{Tags: &tags})
	if err != nil {
		t.Fatalf("EditTransaction returned error: %v", err)
	}
	if len(edited.Tags) != 1 {
		t.Fatalf("expected tag to be stored, got %v", edited.Tags)
	}
}

func TestSelectInternalTransfer_KeepsTags(t *testing.T) {
	env := newTestEnv(t)
	cash := env.addAccount(t, domain.AccountTypeCash, "900")
	debit := env.addAccount(t, domain.AccountTypeDebit, "5000")
	from := env.addTransaction(t, cash, domain.DirectionOut, "100")
	to := env.addTransaction(t, debit, domain.DirectionIn, "100")

	stored := env.repo.transactions[from.ID]
	stored.Tags = []domain.NameAmount{{Name: "savings", Amount: dec(t, "100")}}
	env.repo.transactions[from.ID] = stored

	if _, err := env.svc.SelectInternalTransfer(context.Background(), env.userID, from.ID, domain.SelectInternalTransferRequest{ToTransactionID: to.ID}); err != nil {
		t.Fatalf("SelectInternalTransfer returned error: %v", err)
	}
	tags := env.repo.transactions[from.ID].Tags
	if len(tags) != 1 || tags[0].Name != "savings" || !tags[0].Amount.Equal(dec(t, "100")) {
		t.Fatalf("expected tags to survive linking, got %v", tags)
	}
}

func TestDeleteTransferLeg_BalanceWriteFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	cash := env.addAccount(t, domain.AccountTypeCash, "900")
	emoney := env.addAccount(t, domain.AccountTypeEMoney, "0")
	from := env.addTransaction(t, cash, domain.DirectionOut, "100")
	ctx := context.Background()

	result, err := env.svc.CreateInternalTransfer(ctx, env.userID, from.ID, domain.CreateInternalTransferRequest{ToAccountID: emoney.ID})
	if err != nil {
		t.Fatalf("CreateInternalTransfer returned error: %v", err)
	}

	writeErr := errors.New("connection reset")
	env.repo.failBalanceWrite = writeErr
	if err := env.svc.DeleteTransaction(ctx, env.userID, result.To.ID); !errors.Is(err, writeErr) {
		t.Fatalf("expected balance write error, got %v", err)
	}

	if _, ok := env.repo.transactions[result.To.ID]; !ok {
		t.Fatal("expected deleted leg to be restored")
	}
	link := env.repo.transactions[from.ID].InternalTransferTransactionID
	if link == nil || *link != result.To.ID {
		t.Fatalf("expected source leg to stay linked to %s, got %v", result.To.ID, link)
	}
	assertBalance(t, env, emoney.ID, "100")
}
