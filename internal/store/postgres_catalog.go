package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kudokuapp/kudoku-server/internal/domain"
)

const merchantColumns = `id, name, picture_url, url, created_at, updated_at`

func scanMerchant(row pgx.Row) (*domain.Merchant, error) {
	var merchant domain.Merchant
	err := row.Scan(&merchant.ID, &merchant.Name, &merchant.PictureURL, &merchant.URL, &merchant.CreatedAt, &merchant.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return &merchant, nil
}

func (r *PostgresRepository) CreateMerchant(ctx context.Context, merchant *domain.Merchant) error {
	if merchant.ID == uuid.Nil {
		merchant.ID = uuid.New()
	}
	query := `
		INSERT INTO merchants (id, name, picture_url, url)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, merchant.ID, merchant.Name, merchant.PictureURL, merchant.URL).
		Scan(&merchant.CreatedAt, &merchant.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMerchant
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) FindMerchantByID(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error) {
	return scanMerchant(r.db.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, merchantID))
}

// ListMerchants does a case-insensitive substring match on the name when search is set.
func (r *PostgresRepository) ListMerchants(ctx context.Context, search string, limit int, offset int) ([]domain.Merchant, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + merchantColumns + `
		FROM merchants
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
		ORDER BY lower(name) ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, strings.TrimSpace(search), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	merchants := make([]domain.Merchant, 0)
	for rows.Next() {
		merchant, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		merchants = append(merchants, *merchant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return merchants, nil
}

func (r *PostgresRepository) UpdateMerchant(ctx context.Context, merchant *domain.Merchant) error {
	query := `
		UPDATE merchants SET name = $2, picture_url = $3, url = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query, merchant.ID, merchant.Name, merchant.PictureURL, merchant.URL).Scan(&merchant.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMerchantNotFound
		}
		if isUniqueViolation(err) {
			return ErrDuplicateMerchant
		}
		return err
	}
	return nil
}

// DeleteMerchant removes a merchant; transactions keep their row with merchant_id set to NULL.
func (r *PostgresRepository) DeleteMerchant(ctx context.Context, merchantID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM merchants WHERE id = $1`, merchantID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMerchantNotFound
	}
	return nil
}

const budgetColumns = `id, user_id, name, total_budget, period, start_day, category_plans, created_at, updated_at`

func scanBudget(row pgx.Row) (*domain.Budget, error) {
	var (
		budget   domain.Budget
		period   string
		plansRaw []byte
	)
	err := row.Scan(
		&budget.ID,
		&budget.UserID,
		&budget.Name,
		&budget.TotalBudget,
		&period,
		&budget.StartDay,
		&plansRaw,
		&budget.CreatedAt,
		&budget.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBudgetNotFound
		}
		return nil, err
	}
	budget.Period = domain.BudgetPeriod(period)
	if budget.CategoryPlans, err = unmarshalBreakdown(plansRaw); err != nil {
		return nil, err
	}
	return &budget, nil
}

func (r *PostgresRepository) CreateBudget(ctx context.Context, budget *domain.Budget) error {
	if budget.ID == uuid.Nil {
		budget.ID = uuid.New()
	}
	plans, err := marshalBreakdown(budget.CategoryPlans)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO budgets (id, user_id, name, total_budget, period, start_day, category_plans)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		budget.ID,
		budget.UserID,
		budget.Name,
		budget.TotalBudget,
		string(budget.Period),
		budget.StartDay,
		plans,
	).Scan(&budget.CreatedAt, &budget.UpdatedAt)
}

func (r *PostgresRepository) FindBudgetByID(ctx context.Context, budgetID uuid.UUID) (*domain.Budget, error) {
	return scanBudget(r.db.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = $1`, budgetID))
}

func (r *PostgresRepository) ListBudgetsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Budget, error) {
	rows, err := r.db.Query(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	budgets := make([]domain.Budget, 0)
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, *budget)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return budgets, nil
}

func (r *PostgresRepository) UpdateBudget(ctx context.Context, budget *domain.Budget) error {
	plans, err := marshalBreakdown(budget.CategoryPlans)
	if err != nil {
		return err
	}
	query := `
		UPDATE budgets
		SET name = $2, total_budget = $3, period = $4, start_day = $5, category_plans = $6::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = r.db.QueryRow(ctx, query,
		budget.ID,
		budget.Name,
		budget.TotalBudget,
		string(budget.Period),
		budget.StartDay,
		plans,
	).Scan(&budget.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBudgetNotFound
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) DeleteBudget(ctx context.Context, budgetID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM budgets WHERE id = $1`, budgetID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrBudgetNotFound
	}
	return nil
}
