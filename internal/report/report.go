// Package report derives read-only figures from the ledger: period totals,
// balances, category breakdowns, period series and comparison tables.
//
// Every operation works on a single snapshot read from the store and never
// writes to it.
package report

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
	"budgetwatch/internal/ledger"
	"budgetwatch/internal/variance"
)

// Summary is the envelope-derived overview of a period. Transactions that
// matched no envelope are not part of it; see TransactionTotals.
type Summary struct {
	Period           core.Period
	TotalIncome      decimal.Decimal
	TotalExpense     decimal.Decimal
	CurrentBalance   decimal.Decimal
	EstimatedIncome  decimal.Decimal
	EstimatedExpense decimal.Decimal
	EstimatedBalance decimal.Decimal
}

// CategorySlice is one category's share of a period's realized total.
type CategorySlice struct {
	Category string
	Realized decimal.Decimal
	// Share is a percentage of the type's total. Zero when the total is zero.
	Share decimal.Decimal
}

// SeriesRow is one period of a time series.
type SeriesRow struct {
	Period  core.Period
	Income  decimal.Decimal
	Expense decimal.Decimal
	Balance decimal.Decimal
}

// ComparisonRow sets an envelope's estimate against what was realized.
type ComparisonRow struct {
	EnvelopeID string
	Category   string
	Type       core.EntryType
	Estimated  decimal.Decimal
	Realized   decimal.Decimal
	Tolerance  decimal.Decimal
	Variance   variance.Result
	Alert      bool
}

// TransactionTotals sums stored transactions directly, unmatched ones
// included. Comparing it with Summary exposes money that no envelope absorbed.
type TransactionTotals struct {
	Period          core.Period
	Income          decimal.Decimal
	Expense         decimal.Decimal
	Balance         decimal.Decimal
	Count           int
	UnmatchedCount  int
	UnmatchedAmount decimal.Decimal
}

type Reporter struct {
	store ledger.Store
}

func New(store ledger.Store) *Reporter {
	return &Reporter{store: store}
}

func (r *Reporter) envelopes(ctx context.Context, periods ...core.Period) ([]core.Envelope, error) {
	envs, err := r.store.ListEnvelopes(ctx, periods...)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	return envs, nil
}

// TotalIncome sums realized over the period's income envelopes.
func (r *Reporter) TotalIncome(ctx context.Context, period core.Period) (decimal.Decimal, error) {
	s, err := r.Summary(ctx, period)
	return s.TotalIncome, err
}

// TotalExpense sums realized over the period's expense envelopes.
func (r *Reporter) TotalExpense(ctx context.Context, period core.Period) (decimal.Decimal, error) {
	s, err := r.Summary(ctx, period)
	return s.TotalExpense, err
}

func (r *Reporter) CurrentBalance(ctx context.Context, period core.Period) (decimal.Decimal, error) {
	s, err := r.Summary(ctx, period)
	return s.CurrentBalance, err
}

func (r *Reporter) EstimatedBalance(ctx context.Context, period core.Period) (decimal.Decimal, error) {
	s, err := r.Summary(ctx, period)
	return s.EstimatedBalance, err
}

func (r *Reporter) Summary(ctx context.Context, period core.Period) (Summary, error) {
	envs, err := r.envelopes(ctx, period)
	if err != nil {
		return Summary{Period: period}, err
	}
	return Summarize(period, envs), nil
}

// Summarize computes a Summary from the envelopes of period, ignoring others.
func Summarize(period core.Period, envs []core.Envelope) Summary {
	s := Summary{
		Period:           period,
		TotalIncome:      decimal.Zero,
		TotalExpense:     decimal.Zero,
		EstimatedIncome:  decimal.Zero,
		EstimatedExpense: decimal.Zero,
	}
	for _, env := range envs {
		if env.Period != period {
			continue
		}
		switch env.Type {
		case core.Income:
			s.TotalIncome = s.TotalIncome.Add(env.Realized)
			s.EstimatedIncome = s.EstimatedIncome.Add(env.Estimated)
		case core.Expense:
			s.TotalExpense = s.TotalExpense.Add(env.Realized)
			s.EstimatedExpense = s.EstimatedExpense.Add(env.Estimated)
		}
	}
	s.CurrentBalance = s.TotalIncome.Sub(s.TotalExpense)
	s.EstimatedBalance = s.EstimatedIncome.Sub(s.EstimatedExpense)
	return s
}

// CategoryBreakdown lists realized per envelope of the given type in
// envelope creation order, with each category's share of the total.
func (r *Reporter) CategoryBreakdown(ctx context.Context, period core.Period, typ core.EntryType) ([]CategorySlice, error) {
	if !typ.IsValid() {
		return nil, &core.ValidationError{Field: "type", Err: core.ErrInvalidType}
	}
	envs, err := r.envelopes(ctx, period)
	if err != nil {
		return nil, err
	}

	slices := make([]CategorySlice, 0, len(envs))
	total := decimal.Zero
	for _, env := range envs {
		if env.Type != typ {
			continue
		}
		slices = append(slices, CategorySlice{Category: env.Category, Realized: env.Realized})
		total = total.Add(env.Realized)
	}
	for i := range slices {
		share, ok := core.Percent(slices[i].Realized, total)
		if !ok {
			share = decimal.Zero
		}
		slices[i].Share = share
	}
	return slices, nil
}

// TimeSeries returns one row per requested period, in the order given. Each
// row is computed on its own; nothing carries over between periods.
func (r *Reporter) TimeSeries(ctx context.Context, periods []core.Period) ([]SeriesRow, error) {
	rows := make([]SeriesRow, 0, len(periods))
	if len(periods) == 0 {
		return rows, nil
	}
	envs, err := r.envelopes(ctx, periods...)
	if err != nil {
		return nil, err
	}
	for _, p := range periods {
		s := Summarize(p, envs)
		rows = append(rows, SeriesRow{
			Period:  p,
			Income:  s.TotalIncome,
			Expense: s.TotalExpense,
			Balance: s.CurrentBalance,
		})
	}
	return rows, nil
}

// Comparison returns a row per envelope of period in creation order.
func (r *Reporter) Comparison(ctx context.Context, period core.Period) ([]ComparisonRow, error) {
	envs, err := r.envelopes(ctx, period)
	if err != nil {
		return nil, err
	}
	return Compare(envs), nil
}

// Compare builds comparison rows for envs, keeping their order.
func Compare(envs []core.Envelope) []ComparisonRow {
	rows := make([]ComparisonRow, 0, len(envs))
	for _, env := range envs {
		v, alert := variance.Breaches(env)
		rows = append(rows, ComparisonRow{
			EnvelopeID: env.ID,
			Category:   env.Category,
			Type:       env.Type,
			Estimated:  env.Estimated,
			Realized:   env.Realized,
			Tolerance:  env.Tolerance,
			Variance:   v,
			Alert:      alert,
		})
	}
	return rows
}

// Alerts returns the period's alert set in envelope creation order.
func (r *Reporter) Alerts(ctx context.Context, period core.Period) ([]variance.Alert, error) {
	envs, err := r.envelopes(ctx, period)
	if err != nil {
		return nil, err
	}
	return variance.AlertSet(envs), nil
}

// TransactionTotals sums the period's stored transactions regardless of
// whether an envelope absorbed them.
func (r *Reporter) TransactionTotals(ctx context.Context, period core.Period) (TransactionTotals, error) {
	t := TransactionTotals{
		Period:          period,
		Income:          decimal.Zero,
		Expense:         decimal.Zero,
		UnmatchedAmount: decimal.Zero,
	}
	envs, err := r.envelopes(ctx, period)
	if err != nil {
		return t, err
	}
	txs, err := r.store.ListTransactions(ctx, period)
	if err != nil {
		return t, fmt.Errorf("list transactions: %w", err)
	}

	keys := make(map[core.EnvelopeKey]struct{}, len(envs))
	for _, env := range envs {
		keys[env.Key()] = struct{}{}
	}
	for _, tx := range txs {
		t.Count++
		switch tx.Type {
		case core.Income:
			t.Income = t.Income.Add(tx.Magnitude())
		case core.Expense:
			t.Expense = t.Expense.Add(tx.Magnitude())
		}
		if _, ok := keys[tx.Key()]; !ok {
			t.UnmatchedCount++
			t.UnmatchedAmount = t.UnmatchedAmount.Add(tx.Magnitude())
		}
	}
	t.Balance = t.Income.Sub(t.Expense)
	return t, nil
}
