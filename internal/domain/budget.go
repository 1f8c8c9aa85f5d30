/**
 * @description
 * Budgeting models. A budget spreads a total amount across planned categories for a
 * recurring period; the summary compares the plan against actual outgoing spend.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BudgetPeriod is how often a budget resets.
type BudgetPeriod string

const (
	BudgetPeriodMonthly BudgetPeriod = "MONTHLY"
	BudgetPeriodWeekly  BudgetPeriod = "WEEKLY"
)

// ParseBudgetPeriod accepts "monthly"/"weekly" in any case.
func ParseBudgetPeriod(raw string) (BudgetPeriod, error) {
	switch BudgetPeriod(strings.ToUpper(strings.TrimSpace(raw))) {
	case BudgetPeriodMonthly:
		return BudgetPeriodMonthly, nil
	case BudgetPeriodWeekly:
		return BudgetPeriodWeekly, nil
	}
	return "", fmt.Errorf("unknown budget period %q", raw)
}

// Budget is a user's spending plan. Maps to the `budgets` table.
type Budget struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Name          string          `json:"name"`
	TotalBudget   decimal.Decimal `json:"total_budget"`
	Period        BudgetPeriod    `json:"period"`
	StartDay      int             `json:"start_day"`
	CategoryPlans []NameAmount    `json:"category_plans"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CurrentPeriod returns the [start, end) window of the budget period containing now.
// For monthly budgets StartDay is a day of month (1-28); for weekly budgets it is a
// weekday with 0 meaning Sunday.
func (b *Budget) CurrentPeriod(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if b.Period == BudgetPeriodWeekly {
		offset := (int(today.Weekday()) - b.StartDay + 7) % 7
		start := today.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	}

	start := time.Date(today.Year(), today.Month(), b.StartDay, 0, 0, 0, 0, time.UTC)
	if today.Day() < b.StartDay {
		start = start.AddDate(0, -1, 0)
	}
	return start, start.AddDate(0, 1, 0)
}

// BudgetRequest is used for create and merge-patch update.
type BudgetRequest struct {
	Name          *string          `json:"name,omitempty"`
	TotalBudget   *decimal.Decimal `json:"total_budget,omitempty"`
	Period        *string          `json:"period,omitempty"`
	StartDay      *int             `json:"start_day,omitempty"`
	CategoryPlans *[]NameAmount    `json:"category_plans,omitempty"`
}

// BudgetCategorySummary reports plan vs. actual for one category.
type BudgetCategorySummary struct {
	Name      string          `json:"name"`
	Planned   decimal.Decimal `json:"planned"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
}

// BudgetSummary is the response of the budget summary query.
type BudgetSummary struct {
	BudgetID    uuid.UUID               `json:"budget_id"`
	PeriodStart time.Time               `json:"period_start"`
	PeriodEnd   time.Time               `json:"period_end"`
	TotalBudget decimal.Decimal         `json:"total_budget"`
	TotalSpent  decimal.Decimal         `json:"total_spent"`
	Categories  []BudgetCategorySummary `json:"categories"`
	Unplanned   decimal.Decimal         `json:"unplanned"`
}
