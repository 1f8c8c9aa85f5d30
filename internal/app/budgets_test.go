package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/shopspring/decimal"
)

func stringPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func decimalPtr(t *testing.T, value string) *decimal.Decimal {
	d := dec(t, value)
	return &d
}

func TestCreateBudget_DefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	budget, err := env.svc.CreateBudget(ctx, env.userID, domain.BudgetRequest{
		Name:        stringPtr(" Monthly "),
		TotalBudget: decimalPtr(t, "1000"),
		CategoryPlans: &[]domain.NameAmount{
			{Name: "Food", Amount: dec(t, "600")},
			{Name: "Transport", Amount: dec(t, "400")},
		},
	})
	if err != nil {
		t.Fatalf("CreateBudget returned error: %v", err)
	}
	if budget.Period != domain.BudgetPeriodMonthly || budget.StartDay != 1 || budget.Name != "Monthly" {
		t.Fatalf("unexpected defaults: %+v", budget)
	}

	tests := []struct {
		name    string
		req     domain.BudgetRequest
		wantErr error
	}{
		{
			name:    "plans exceed total",
			req:     domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "100"), CategoryPlans: &[]domain.NameAmount{{Name: "Food", Amount: dec(t, "100.01")}}},
			wantErr: ErrBudgetPlanExceedsTotal,
		},
		{
			name: "duplicate category",
			req: domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "100"), CategoryPlans: &[]domain.NameAmount{
				{Name: "Food", Amount: dec(t, "10")}, {Name: "food", Amount: dec(t, "10")},
			}},
			wantErr: ErrBudgetDuplicateCategory,
		},
		{
			name:    "monthly start day out of range",
			req:     domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "100"), StartDay: intPtr(31)},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "weekly start day out of range",
			req:     domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "100"), Period: stringPtr("weekly"), StartDay: intPtr(7)},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "sub-cent total",
			req:     domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "100.005")},
			wantErr: domain.ErrAmountPrecision,
		},
		{
			name:    "sub-cent plan",
			req:     domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "100"), CategoryPlans: &[]domain.NameAmount{{Name: "Food", Amount: dec(t, "9.999")}}},
			wantErr: domain.ErrAmountPrecision,
		},
		{
			name:    "zero total",
			req:     domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "0")},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown period",
			req:     domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "100"), Period: stringPtr("yearly")},
			wantErr: ErrInvalidInput,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.CreateBudget(ctx, env.userID, tc.req); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestUpdateBudget_SwitchToWeeklyResetsStartDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	budget, err := env.svc.CreateBudget(ctx, env.userID, domain.BudgetRequest{Name: stringPtr("b"), TotalBudget: decimalPtr(t, "100"), StartDay: intPtr(25)})
	if err != nil {
		t.Fatalf("CreateBudget returned error: %v", err)
	}

	updated, err := env.svc.UpdateBudget(ctx, env.userID, budget.ID, domain.BudgetRequest{Period: stringPtr("Weekly")})
	if err != nil {
		t.Fatalf("UpdateBudget returned error: %v", err)
	}
	if updated.Period != domain.BudgetPeriodWeekly || updated.StartDay != int(time.Monday) {
		t.Fatalf("expected weekly budget starting Monday, got %+v", updated)
	}

	if _, err := env.svc.UpdateBudget(ctx, uuid.New(), budget.ID, domain.BudgetRequest{}); !errors.Is(err, store.ErrBudgetNotFound) {
		t.Fatalf("expected ErrBudgetNotFound for another user, got %v", err)
	}
}

func TestBudgetSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cash := env.addAccount(t, domain.AccountTypeCash, "0")

	budget, err := env.svc.CreateBudget(ctx, env.userID, domain.BudgetRequest{
		Name:          stringPtr("March"),
		TotalBudget:   decimalPtr(t, "1000"),
		CategoryPlans: &[]domain.NameAmount{{Name: "Food", Amount: dec(t, "500")}},
	})
	if err != nil {
		t.Fatalf("CreateBudget returned error: %v", err)
	}

	env.addTransaction(t, cash, domain.DirectionOut, "120")
	split := env.addTransaction(t, cash, domain.DirectionOut, "100")
	split.Category = []domain.NameAmount{{Name: "food", Amount: dec(t, "30")}, {Name: "Gifts", Amount: dec(t, "70")}}
	env.repo.transactions[split.ID] = *split

	hidden := env.addTransaction(t, cash, domain.DirectionOut, "999")
	hidden.IsHideFromBudget = true
	env.repo.transactions[hidden.ID] = *hidden

	env.addTransaction(t, cash, domain.DirectionIn, "5000")
	lastMonth := env.addTransaction(t, cash, domain.DirectionOut, "40")
	lastMonth.TransactionDate = time.Date(2024, time.February, 20, 0, 0, 0, 0, time.UTC)
	env.repo.transactions[lastMonth.ID] = *lastMonth

	summary, err := env.svc.BudgetSummary(ctx, env.userID, budget.ID, time.Time{})
	if err != nil {
		t.Fatalf("BudgetSummary returned error: %v", err)
	}
	if !summary.PeriodStart.Equal(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period start %s", summary.PeriodStart)
	}
	if !summary.TotalSpent.Equal(dec(t, "220")) {
		t.Fatalf("expected total spent 220, got %s", summary.TotalSpent)
	}
	if len(summary.Categories) != 1 {
		t.Fatalf("expected one category, got %d", len(summary.Categories))
	}
	foodSummary := summary.Categories[0]
	if !foodSummary.Spent.Equal(dec(t, "150")) || !foodSummary.Remaining.Equal(dec(t, "350")) {
		t.Fatalf("unexpected food summary: %+v", foodSummary)
	}
	if !summary.Unplanned.Equal(dec(t, "70")) {
		t.Fatalf("expected unplanned 70, got %s", summary.Unplanned)
	}
}

func TestMerchants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	merchant, err := env.svc.CreateMerchant(ctx, domain.MerchantRequest{Name: stringPtr(" Kopi Kenangan "), URL: stringPtr("https://kopikenangan.com")})
	if err != nil {
		t.Fatalf("CreateMerchant returned error: %v", err)
	}
	if merchant.Name != "Kopi Kenangan" {
		t.Fatalf("expected trimmed name, got %q", merchant.Name)
	}
	if _, err := env.svc.CreateMerchant(ctx, domain.MerchantRequest{Name: stringPtr("kopi kenangan")}); !errors.Is(err, store.ErrDuplicateMerchant) {
		t.Fatalf("expected ErrDuplicateMerchant, got %v", err)
	}
	if _, err := env.svc.CreateMerchant(ctx, domain.MerchantRequest{Name: stringPtr("Bad"), PictureURL: stringPtr("ftp://x")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad url, got %v", err)
	}

	found, err := env.svc.ListMerchants(ctx, "kenangan", 0, 0)
	if err != nil {
		t.Fatalf("ListMerchants returned error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected one merchant, got %d", len(found))
	}

	updated, err := env.svc.UpdateMerchant(ctx, merchant.ID, domain.MerchantRequest{URL: stringPtr("")})
	if err != nil {
		t.Fatalf("UpdateMerchant returned error: %v", err)
	}
	if updated.URL != nil {
		t.Fatalf("expected url to be cleared, got %v", *updated.URL)
	}

	if err := env.svc.DeleteMerchant(ctx, merchant.ID); err != nil {
		t.Fatalf("DeleteMerchant returned error: %v", err)
	}
	if _, err := env.svc.GetMerchant(ctx, merchant.ID); !errors.Is(err, store.ErrMerchantNotFound) {
		t.Fatalf("expected ErrMerchantNotFound, got %v", err)
	}
}
