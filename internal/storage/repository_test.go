package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testEnvelope(id, category string, period core.Period) core.Envelope {
	return core.Envelope{
		ID:        id,
		Category:  category,
		Type:      core.Expense,
		Period:    period,
		Estimated: decimal.RequireFromString("600.50"),
		Realized:  decimal.Zero,
		Tolerance: decimal.NewFromInt(20),
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testTransaction(id, category string, period core.Period, amount string) core.Transaction {
	return core.Transaction{
		ID:           id,
		Description:  "purchase " + id,
		SignedAmount: decimal.RequireFromString(amount).Abs().Neg(),
		Category:     category,
		Type:         core.Expense,
		Period:       period,
		Date:         core.DateOf(period.Start()),
		Source:       core.Imported,
	}
}

func TestSQLiteEnvelopeRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	want := testEnvelope("e1", "Groceries", "2024-01")
	if err := repo.InsertEnvelope(ctx, want); err != nil {
		t.Fatalf("InsertEnvelope: %v", err)
	}
	if err := repo.InsertEnvelope(ctx, want); err == nil {
		t.Fatal("expected error inserting duplicate id")
	}

	got, err := repo.GetEnvelope(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if got.Category != "Groceries" || got.Type != core.Expense || got.Period != "2024-01" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if !got.Estimated.Equal(want.Estimated) || !got.Realized.IsZero() || !got.Tolerance.Equal(want.Tolerance) {
		t.Fatalf("amounts not preserved: %+v", got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}

	if _, err := repo.GetEnvelope(ctx, "missing"); !errors.Is(err, core.ErrEnvelopeNotFound) {
		t.Fatalf("GetEnvelope(missing) err = %v", err)
	}
}

func TestSQLiteListAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for _, env := range []core.Envelope{
		testEnvelope("e1", "Groceries", "2024-01"),
		testEnvelope("e2", "Transport", "2024-02"),
		testEnvelope("e3", "Transport", "2024-01"),
		testEnvelope("e4", "Groceries", "2024-01"),
	} {
		if err := repo.InsertEnvelope(ctx, env); err != nil {
			t.Fatalf("InsertEnvelope(%s): %v", env.ID, err)
		}
	}

	jan, err := repo.ListEnvelopes(ctx, "2024-01")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(jan) != 3 || jan[0].ID != "e1" || jan[1].ID != "e3" || jan[2].ID != "e4" {
		t.Fatalf("ListEnvelopes(2024-01) = %v", jan)
	}

	all, err := repo.ListEnvelopes(ctx)
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ListEnvelopes() returned %d envelopes, want 4", len(all))
	}

	both, err := repo.ListEnvelopes(ctx, "2024-01", "2024-02")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(both) != 4 {
		t.Fatalf("ListEnvelopes(two periods) returned %d envelopes, want 4", len(both))
	}

	dupes, err := repo.FindEnvelopes(ctx, core.EnvelopeKey{Category: "Groceries", Type: core.Expense, Period: "2024-01"})
	if err != nil {
		t.Fatalf("FindEnvelopes: %v", err)
	}
	if len(dupes) != 2 {
		t.Fatalf("FindEnvelopes returned %d envelopes, want 2", len(dupes))
	}
}

func TestSQLiteAppendTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if err := repo.InsertEnvelope(ctx, testEnvelope("e1", "Groceries", "2024-01")); err != nil {
		t.Fatalf("InsertEnvelope: %v", err)
	}

	if err := repo.AppendTransaction(ctx, testTransaction("t1", "Groceries", "2024-01", "12.30"), "e1"); err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}
	if err := repo.AppendTransaction(ctx, testTransaction("t2", "Groceries", "2024-01", "7.70"), "e1"); err != nil {
		t.Fatalf("AppendTransaction: %v", err)
	}
	if err := repo.AppendTransaction(ctx, testTransaction("t3", "Unknown", "2024-01", "99"), ""); err != nil {
		t.Fatalf("AppendTransaction(unmatched): %v", err)
	}
	if err := repo.AppendTransaction(ctx, testTransaction("t4", "Groceries", "2024-01", "1"), "missing"); !errors.Is(err, core.ErrEnvelopeNotFound) {
		t.Fatalf("AppendTransaction(missing envelope) err = %v", err)
	}

	env, err := repo.GetEnvelope(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if !env.Realized.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("Realized = %s, want 20", env.Realized)
	}

	txs, err := repo.ListTransactions(ctx, "2024-01")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("ListTransactions returned %d, want 3 (failed append must not store)", len(txs))
	}
	if txs[0].ID != "t1" || txs[2].ID != "t3" {
		t.Fatalf("unexpected order: %s, %s", txs[0].ID, txs[2].ID)
	}
	if txs[0].Date.String() != "2024-01-01" || txs[0].Source != core.Imported {
		t.Fatalf("fields not preserved: %+v", txs[0])
	}
	if !txs[0].SignedAmount.Equal(decimal.RequireFromString("-12.30")) {
		t.Fatalf("SignedAmount = %s", txs[0].SignedAmount)
	}

	byKey, err := repo.TransactionsByKey(ctx, core.EnvelopeKey{Category: "Groceries", Type: core.Expense, Period: "2024-01"})
	if err != nil {
		t.Fatalf("TransactionsByKey: %v", err)
	}
	if len(byKey) != 2 {
		t.Fatalf("TransactionsByKey returned %d, want 2", len(byKey))
	}
}

func TestSQLiteSetRealized(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if err := repo.InsertEnvelope(ctx, testEnvelope("e1", "Groceries", "2024-01")); err != nil {
		t.Fatalf("InsertEnvelope: %v", err)
	}

	if err := repo.SetRealized(ctx, "e1", decimal.RequireFromString("42.5")); err != nil {
		t.Fatalf("SetRealized: %v", err)
	}
	env, err := repo.GetEnvelope(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if env.Realized.String() != "42.5" {
		t.Fatalf("Realized = %s, want 42.5", env.Realized)
	}

	if err := repo.SetRealized(ctx, "missing", decimal.Zero); !errors.Is(err, core.ErrEnvelopeNotFound) {
		t.Fatalf("SetRealized(missing) err = %v", err)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	if err := repo.InsertEnvelope(ctx, testEnvelope("e1", "Groceries", "2024-01")); err != nil {
		t.Fatalf("InsertEnvelope: %v", err)
	}
	repo.Close()

	reopened, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetEnvelope(ctx, "e1"); err != nil {
		t.Fatalf("GetEnvelope after reopen: %v", err)
	}
	if err := reopened.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
