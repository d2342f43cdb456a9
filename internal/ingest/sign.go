package ingest

import (
	"errors"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
)

var ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")

// Sign applies the canonical sign convention: expenses negative, incomes positive.
func Sign(amount decimal.Decimal, typ core.EntryType) decimal.Decimal {
	if typ == core.Expense {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}
