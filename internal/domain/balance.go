package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount      = errors.New("amount must not be negative")
	ErrCategorySumMismatch = errors.New("category amounts must add up to the transaction amount")
	ErrTagSumExceeded      = errors.New("tag amounts must not exceed the transaction amount")
	ErrEmptyBreakdownName  = errors.New("category and tag names must not be empty")
	ErrAmountPrecision     = errors.New("amounts must have at most 2 decimal places")
)

// AmountScale is the number of decimal places stored for every money column.
const AmountScale = 2

// ValidateScale rejects amounts the database would have to round.
func ValidateScale(amounts ...decimal.Decimal) error {
	for _, amount := range amounts {
		if !amount.Truncate(AmountScale).Equal(amount) {
			return ErrAmountPrecision
		}
	}
	return nil
}

// UpdateBalance returns the balance after applying (or, with reverse, undoing)
// a transaction of the given amount and direction.
func UpdateBalance(balance, amount decimal.Decimal, direction Direction, reverse bool) decimal.Decimal {
	credit := direction == DirectionIn
	if reverse {
		credit = !credit
	}
	if credit {
		return balance.Add(amount)
	}
	return balance.Sub(amount)
}

// SumAmounts adds up the amounts of a breakdown.
func SumAmounts(items []NameAmount) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

// ValidateBreakdown enforces sum(category) == amount and sum(tags) <= amount.
func ValidateBreakdown(amount decimal.Decimal, category, tags []NameAmount) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if err := ValidateScale(amount); err != nil {
		return err
	}
	for _, items := range [][]NameAmount{category, tags} {
		for _, item := range items {
			if strings.TrimSpace(item.Name) == "" {
				return ErrEmptyBreakdownName
			}
			if item.Amount.IsNegative() {
				return ErrNegativeAmount
			}
			if err := ValidateScale(item.Amount); err != nil {
				return err
			}
		}
	}
	if !SumAmounts(category).Equal(amount) {
		return ErrCategorySumMismatch
	}
	if SumAmounts(tags).GreaterThan(amount) {
		return ErrTagSumExceeded
	}
	return nil
}

// ReconcileDelta returns the absolute difference between two balances and the
// direction of the movement from current to target.
func ReconcileDelta(current, target decimal.Decimal) (decimal.Decimal, Direction) {
	if target.GreaterThan(current) {
		return target.Sub(current), DirectionIn
	}
	return current.Sub(target), DirectionOut
}
