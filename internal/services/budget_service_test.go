package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/amqp"
	"budgetwatch/internal/core"
	"budgetwatch/internal/ledger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, event *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func (p *recordingPublisher) kinds() []amqp.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func newTestService(t *testing.T, pub Publisher) *BudgetService {
	t.Helper()
	var mu sync.Mutex
	n := 0
	return NewBudgetService(ledger.NewMemoryStore(),
		WithPublisher(pub),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func groceries(t *testing.T, s *BudgetService) core.Envelope {
	t.Helper()
	tol := decimal.NewFromInt(20)
	env, err := s.CreateEnvelope(context.Background(), core.CreateEnvelopeRequest{
		Category: "Groceries", Type: core.Expense, Period: "2024-01",
		Estimated: decimal.NewFromInt(600), Tolerance: &tol,
	})
	if err != nil {
		t.Fatalf("CreateEnvelope: %v", err)
	}
	return env
}

func TestBudgetService_EndToEndAlert(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, pub)
	ctx := context.Background()
	env := groceries(t, s)

	res, err := s.IngestTransaction(ctx, core.RawTransactionRecord{
		Description: "Weekly shop", Amount: "750", Category: "Groceries", Type: "expense", Date: "2024-01-15",
	})
	if err != nil {
		t.Fatalf("IngestTransaction: %v", err)
	}
	if res.EnvelopeID != env.ID {
		t.Fatalf("EnvelopeID = %q, want %q", res.EnvelopeID, env.ID)
	}
	if got := res.Transaction.SignedAmount.String(); got != "-750" {
		t.Fatalf("SignedAmount = %s, want -750", got)
	}

	alerts, err := s.GetAlerts(ctx, "2024-01", false)
	if err != nil {
		t.Fatalf("GetAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Envelope.Category != "Groceries" || alerts[0].Pct.String() != "25" {
		t.Fatalf("alerts = %+v", alerts)
	}

	summary, err := s.GetSummary(ctx, "2024-01")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.TotalExpense.String() != "750" || summary.CurrentBalance.String() != "-750" {
		t.Fatalf("summary = %+v", summary)
	}

	want := []amqp.EventKind{amqp.EventEnvelopeCreated, amqp.EventTransactionReconciled}
	if got := pub.kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestBudgetService_UnmatchedIngest(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, pub)
	ctx := context.Background()
	groceries(t, s)

	res, err := s.IngestTransaction(ctx, core.RawTransactionRecord{
		Description: "???", Amount: "40", Category: "Unknown", Type: "expense",
	})
	if err != nil {
		t.Fatalf("IngestTransaction: %v", err)
	}
	if res.Warning == nil || res.Matched() {
		t.Fatalf("expected unmatched warning, got %+v", res)
	}
	if res.Transaction.Period != "2024-01" {
		t.Fatalf("Period = %s, want ingestion month 2024-01", res.Transaction.Period)
	}

	summary, err := s.GetSummary(ctx, "2024-01")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if !summary.TotalExpense.IsZero() {
		t.Fatalf("unmatched transaction leaked into summary: %s", summary.TotalExpense)
	}

	totals, err := s.GetTransactionTotals(ctx, "2024-01")
	if err != nil {
		t.Fatalf("GetTransactionTotals: %v", err)
	}
	if totals.UnmatchedCount != 1 || totals.Expense.String() != "40" {
		t.Fatalf("totals = %+v", totals)
	}

	kinds := pub.kinds()
	if kinds[len(kinds)-1] != amqp.EventTransactionUnmatched {
		t.Fatalf("last event = %s", kinds[len(kinds)-1])
	}
}

func TestBudgetService_IngestValidation(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, pub)

	_, err := s.IngestTransaction(context.Background(), core.RawTransactionRecord{
		Description: "", Amount: "1", Category: "Groceries", Type: "expense",
	})
	var verr *core.ValidationError
	if !errors.As(err, &verr) || verr.Field != "description" {
		t.Fatalf("err = %v, want description ValidationError", err)
	}
	if len(pub.kinds()) != 0 {
		t.Fatal("rejected record must not publish")
	}
}

func TestBudgetService_IngestBatch(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	env := groceries(t, s)

	rep := s.IngestBatch(ctx, []core.RawTransactionRecord{
		{Description: "a", Amount: "100", Category: "Groceries", Type: "expense", Source: core.Imported},
		{Description: "b", Amount: "abc", Category: "Groceries", Type: "expense", Source: core.Imported},
		{Description: "c", Amount: "5", Category: "Other", Type: "expense", Source: core.Imported},
		{Description: "d", Amount: "-20", Category: "Groceries", Type: "expense", Source: core.Imported},
	})

	if rep.Accepted != 3 || rep.Unmatched != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if !core.IsValidation(rep.Items[1].Err) {
		t.Fatalf("item 1 err = %v", rep.Items[1].Err)
	}
	if rep.Items[3].Result.Transaction.Description != "d" {
		t.Fatalf("items out of order: %+v", rep.Items[3])
	}

	envs, err := s.ListEnvelopes(ctx, "2024-01")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 1 || envs[0].ID != env.ID || envs[0].Realized.String() != "120" {
		t.Fatalf("envelopes = %+v", envs)
	}
}

func TestBudgetService_ImportCSV(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	groceries(t, s)

	csv := "date,description,amount,category,type\n" +
		"2024-01-03,Market,60,Groceries,expense\n" +
		"2023-12-30,Old shop,10,Groceries,expense\n" +
		"2024-01-04,,5,Groceries,expense\n"
	rep, err := s.ImportCSV(ctx, strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if rep.Accepted != 2 || rep.Unmatched != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Items[0].Result.Transaction.Source != core.Imported {
		t.Fatalf("Source = %s", rep.Items[0].Result.Transaction.Source)
	}

	if _, err := s.ImportCSV(ctx, strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestBudgetService_ImportCSVMalformedRowStaysLocal(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	groceries(t, s)

	csv := "date,description,amount,category,type\n" +
		"2024-01-03,Market,60,Groceries,expense\n" +
		"2024-01-05,Bad \"row,abc,Groceries,expense\n" +
		"2024-01-06,Bakery,15,Groceries,expense\n"
	rep, err := s.ImportCSV(ctx, strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if rep.Accepted != 2 || rep.Failed != 1 || len(rep.Items) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Items[1].Err == nil {
		t.Fatal("expected the middle record to be rejected")
	}

	txs, err := s.ListTransactions(ctx, "2024-01")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("stored %d transactions, want 2", len(txs))
	}
}

func TestBudgetService_ListTransactionsNewestFirst(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	for _, d := range []string{"first", "second", "third"} {
		if _, err := s.IngestTransaction(ctx, core.RawTransactionRecord{
			Description: d, Amount: "1", Category: "X", Type: "income",
		}); err != nil {
			t.Fatalf("IngestTransaction: %v", err)
		}
	}
	txs, err := s.ListTransactions(ctx, "2024-01")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 3 || txs[0].Description != "third" || txs[2].Description != "first" {
		t.Fatalf("unexpected order: %+v", txs)
	}
}

func TestBudgetService_SeedDefaults(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	created, skipped, err := s.SeedDefaults(ctx, "2024-05", decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	if len(created) != 6 || skipped != 0 {
		t.Fatalf("created %d, skipped %d", len(created), skipped)
	}

	created, skipped, err = s.SeedDefaults(ctx, "2024-05", decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("SeedDefaults again: %v", err)
	}
	if len(created) != 0 || skipped != 6 {
		t.Fatalf("second seed created %d, skipped %d", len(created), skipped)
	}

	summary, err := s.GetSummary(ctx, "2024-05")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	// 4200 + 1260 - (672 + 252 + 1008 + 336)
	if summary.EstimatedBalance.String() != "3192" {
		t.Fatalf("EstimatedBalance = %s", summary.EstimatedBalance)
	}

	if _, _, err := s.SeedDefaults(ctx, "May", decimal.Zero); !core.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestBudgetService_ApplyPlan(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	groceries(t, s)

	plan := []core.CreateEnvelopeRequest{
		{Category: "Groceries", Type: core.Expense, Period: "2024-01", Estimated: decimal.NewFromInt(500)},
		{Category: "Fuel", Type: core.Expense, Period: "2024-01", Estimated: decimal.NewFromInt(80)},
		{Category: "Broken", Type: core.Expense, Period: "2024-01", Estimated: decimal.NewFromInt(-1)},
		{Category: "Never", Type: core.Expense, Period: "2024-01", Estimated: decimal.NewFromInt(10)},
	}
	created, skipped, err := s.ApplyPlan(ctx, plan)
	if !core.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(created) != 1 || created[0].Category != "Fuel" || skipped != 1 {
		t.Fatalf("created %+v, skipped %d", created, skipped)
	}

	envs, err := s.ListEnvelopes(ctx, "2024-01")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("envelopes = %d, want 2", len(envs))
	}
}

func TestBudgetService_RebuildEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, pub)
	ctx := context.Background()
	env := groceries(t, s)

	if _, err := s.IngestTransaction(ctx, core.RawTransactionRecord{
		Description: "shop", Amount: "30", Category: "Groceries", Type: "expense",
	}); err != nil {
		t.Fatalf("IngestTransaction: %v", err)
	}
	if err := s.Store().SetRealized(ctx, env.ID, decimal.NewFromInt(999)); err != nil {
		t.Fatalf("SetRealized: %v", err)
	}

	rebuilt, err := s.RebuildEnvelope(ctx, env.ID)
	if err != nil {
		t.Fatalf("RebuildEnvelope: %v", err)
	}
	if rebuilt.Realized.String() != "30" {
		t.Fatalf("Realized = %s, want 30", rebuilt.Realized)
	}
	kinds := pub.kinds()
	if kinds[len(kinds)-1] != amqp.EventEnvelopeRebuilt {
		t.Fatalf("last event = %s", kinds[len(kinds)-1])
	}

	if _, err := s.RebuildEnvelope(ctx, "nope"); !errors.Is(err, core.ErrEnvelopeNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestBudgetService_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := newTestService(t, pub)
	env := groceries(t, s)
	if env.ID == "" {
		t.Fatal("envelope should be created despite publish failure")
	}
}

func TestBudgetService_PeriodValidation(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	if _, err := s.GetSummary(ctx, "2024-13"); !core.IsValidation(err) {
		t.Fatalf("GetSummary err = %v", err)
	}
	if _, err := s.GetAlerts(ctx, "", false); !core.IsValidation(err) {
		t.Fatalf("GetAlerts err = %v", err)
	}
	if _, err := s.GetTimeSeries(ctx, []core.Period{"2024-01", "bad"}); !core.IsValidation(err) {
		t.Fatalf("GetTimeSeries err = %v", err)
	}
}

func TestBudgetService_Close(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestService(t, pub)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pub.closed {
		t.Fatal("publisher should be closed")
	}

	bare := NewBudgetService(ledger.NewMemoryStore())
	if err := bare.Close(); err != nil {
		t.Fatalf("Close with no resources: %v", err)
	}
}
