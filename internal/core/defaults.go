package core

import "github.com/shopspring/decimal"

// DefaultTolerance is the alert threshold applied when none is configured.
var DefaultTolerance = decimal.NewFromInt(20)

// DefaultEnvelopes is the starter envelope set offered to a new household.
// Realized amounts start at zero; tolerances override the configured default
// only where the category is known to be volatile or fixed.
func DefaultEnvelopes(period Period, tolerance decimal.Decimal) []CreateEnvelopeRequest {
	tol := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	return []CreateEnvelopeRequest{
		{Category: "Salary", Type: Income, Period: period, Estimated: decimal.NewFromInt(4200), Tolerance: tol(10)},
		{Category: "Freelance", Type: Income, Period: period, Estimated: decimal.NewFromInt(1260), Tolerance: tol(15)},
		{Category: "Groceries", Type: Expense, Period: period, Estimated: decimal.NewFromInt(672), Tolerance: &tolerance},
		{Category: "Transport", Type: Expense, Period: period, Estimated: decimal.NewFromInt(252), Tolerance: tol(10)},
		{Category: "Housing", Type: Expense, Period: period, Estimated: decimal.NewFromInt(1008), Tolerance: tol(5)},
		{Category: "Leisure", Type: Expense, Period: period, Estimated: decimal.NewFromInt(336), Tolerance: tol(25)},
	}
}
