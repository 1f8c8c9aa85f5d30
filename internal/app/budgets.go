package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/shopspring/decimal"
)

func validateBudget(budget *domain.Budget) error {
	if budget.Name == "" {
		return invalid("budget name is required")
	}
	if !budget.TotalBudget.IsPositive() {
		return invalid("total budget must be greater than zero")
	}
	if err := validateScale(budget.TotalBudget); err != nil {
		return err
	}
	switch budget.Period {
	case domain.BudgetPeriodMonthly:
		if budget.StartDay < 1 || budget.StartDay > 28 {
			return invalid("monthly start day must be between 1 and 28")
		}
	case domain.BudgetPeriodWeekly:
		if budget.StartDay < 0 || budget.StartDay > 6 {
			return invalid("weekly start day must be between 0 (Sunday) and 6")
		}
	default:
		return invalid("unknown budget period %q", budget.Period)
	}

	seen := make(map[string]struct{}, len(budget.CategoryPlans))
	for i, plan := range budget.CategoryPlans {
		name := strings.TrimSpace(plan.Name)
		if name == "" {
			return invalid("category plan names must not be empty")
		}
		if plan.Amount.IsNegative() {
			return invalid("category plan amounts must not be negative")
		}
		if err := validateScale(plan.Amount); err != nil {
			return err
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return ErrBudgetDuplicateCategory
		}
		seen[key] = struct{}{}
		budget.CategoryPlans[i].Name = name
	}
	if domain.SumAmounts(budget.CategoryPlans).GreaterThan(budget.TotalBudget) {
		return ErrBudgetPlanExceedsTotal
	}
	return nil
}

func applyBudgetRequest(budget *domain.Budget, req domain.BudgetRequest) error {
	if req.Name != nil {
		budget.Name = strings.TrimSpace(*req.Name)
	}
	if req.TotalBudget != nil {
		budget.TotalBudget = *req.TotalBudget
	}
	if req.Period != nil {
		period, err := domain.ParseBudgetPeriod(*req.Period)
		if err != nil {
			return invalid("%v", err)
		}
		if period != budget.Period && req.StartDay == nil {
			budget.StartDay = defaultStartDay(period)
		}
		budget.Period = period
	}
	if req.StartDay != nil {
		budget.StartDay = *req.StartDay
	}
	if req.CategoryPlans != nil {
		budget.CategoryPlans = append([]domain.NameAmount(nil), (*req.CategoryPlans)...)
	}
	return nil
}

func defaultStartDay(period domain.BudgetPeriod) int {
	if period == domain.BudgetPeriodWeekly {
		return int(time.Monday)
	}
	return 1
}

// CreateBudget defaults to a monthly budget starting on the 1st.
func (s *Service) CreateBudget(ctx context.Context, userID uuid.UUID, req domain.BudgetRequest) (*domain.Budget, error) {
	budget := &domain.Budget{
		ID:       uuid.New(),
		UserID:   userID,
		Period:   domain.BudgetPeriodMonthly,
		StartDay: 1,
	}
	if err := applyBudgetRequest(budget, req); err != nil {
		return nil, err
	}
	if err := validateBudget(budget); err != nil {
		return nil, err
	}
	if err := s.repo.CreateBudget(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

func (s *Service) ownedBudget(ctx context.Context, userID, budgetID uuid.UUID) (*domain.Budget, error) {
	budget, err := s.repo.FindBudgetByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if budget.UserID != userID {
		return nil, store.ErrBudgetNotFound
	}
	return budget, nil
}

func (s *Service) GetBudget(ctx context.Context, userID, budgetID uuid.UUID) (*domain.Budget, error) {
	return s.ownedBudget(ctx, userID, budgetID)
}

func (s *Service) ListBudgets(ctx context.Context, userID uuid.UUID) ([]domain.Budget, error) {
	return s.repo.ListBudgetsByUserID(ctx, userID)
}

func (s *Service) UpdateBudget(ctx context.Context, userID, budgetID uuid.UUID, req domain.BudgetRequest) (*domain.Budget, error) {
	budget, err := s.ownedBudget(ctx, userID, budgetID)
	if err != nil {
		return nil, err
	}
	if err := applyBudgetRequest(budget, req); err != nil {
		return nil, err
	}
	if err := validateBudget(budget); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBudget(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

func (s *Service) DeleteBudget(ctx context.Context, userID, budgetID uuid.UUID) error {
	if _, err := s.ownedBudget(ctx, userID, budgetID); err != nil {
		return err
	}
	return s.repo.DeleteBudget(ctx, budgetID)
}

// BudgetSummary compares the plan with outgoing spend in the period containing now.
// Spend in categories without a plan is reported as Unplanned.
func (s *Service) BudgetSummary(ctx context.Context, userID, budgetID uuid.UUID, now time.Time) (*domain.BudgetSummary, error) {
	budget, err := s.ownedBudget(ctx, userID, budgetID)
	if err != nil {
		return nil, err
	}
	if now.IsZero() {
		now = s.now()
	}
	start, end := budget.CurrentPeriod(now)

	spending, err := s.repo.SumSpendingByCategory(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	spent := make(map[string]decimal.Decimal, len(spending))
	totalSpent := decimal.Zero
	for _, item := range spending {
		key := strings.ToLower(strings.TrimSpace(item.Name))
		spent[key] = spent[key].Add(item.Amount)
		totalSpent = totalSpent.Add(item.Amount)
	}

	summary := &domain.BudgetSummary{
		BudgetID:    budget.ID,
		PeriodStart: start,
		PeriodEnd:   end,
		TotalBudget: budget.TotalBudget,
		TotalSpent:  totalSpent,
		Categories:  make([]domain.BudgetCategorySummary, 0, len(budget.CategoryPlans)),
		Unplanned:   totalSpent,
	}
	for _, plan := range budget.CategoryPlans {
		amount := spent[strings.ToLower(plan.Name)]
		summary.Categories = append(summary.Categories, domain.BudgetCategorySummary{
			Name:      plan.Name,
			Planned:   plan.Amount,
			Spent:     amount,
			Remaining: plan.Amount.Sub(amount),
		})
		summary.Unplanned = summary.Unplanned.Sub(amount)
	}
	return summary, nil
}
