package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/amqp"
	"budgetwatch/internal/core"
	"budgetwatch/internal/engine"
	"budgetwatch/internal/ingest"
	"budgetwatch/internal/ledger"
	"budgetwatch/internal/report"
	"budgetwatch/internal/variance"
)

// Publisher delivers ledger events to whoever mirrors or watches the ledger.
type Publisher interface {
	Publish(ctx context.Context, event *amqp.LedgerEvent) error
}

// BudgetService is the entry point used by the HTTP API, the CLI and the
// worker. It owns the engine, so every mutation of the store goes through it.
type BudgetService struct {
	store     ledger.Store
	engine    *engine.Engine
	adapter   *ingest.Adapter
	reporter  *report.Reporter
	publisher Publisher
	logger    *slog.Logger
}

type Option func(*options)

type options struct {
	publisher Publisher
	logger    *slog.Logger
	tolerance *decimal.Decimal
	now       func() time.Time
	newID     func() string
}

func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDefaultTolerance sets the tolerance percentage for envelopes created without one.
func WithDefaultTolerance(tolerance decimal.Decimal) Option {
	return func(o *options) { o.tolerance = &tolerance }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces uuid generation for envelopes and transactions.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}

func NewBudgetService(store ledger.Store, opts ...Option) *BudgetService {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	engineOpts := []engine.Option{engine.WithLogger(o.logger)}
	adapterOpts := []ingest.Option{}
	if o.tolerance != nil {
		engineOpts = append(engineOpts, engine.WithDefaultTolerance(*o.tolerance))
	}
	if o.now != nil {
		engineOpts = append(engineOpts, engine.WithClock(o.now))
		adapterOpts = append(adapterOpts, ingest.WithClock(o.now))
	}
	if o.newID != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(o.newID))
		adapterOpts = append(adapterOpts, ingest.WithIDGenerator(o.newID))
	}

	return &BudgetService{
		store:     store,
		engine:    engine.New(store, engineOpts...),
		adapter:   ingest.NewAdapter(adapterOpts...),
		reporter:  report.New(store),
		publisher: o.publisher,
		logger:    o.logger,
	}
}

// Store exposes the ledger for read-only consumers such as the mirror worker.
func (s *BudgetService) Store() ledger.Store {
	return s.store
}

func (s *BudgetService) CreateEnvelope(ctx context.Context, req core.CreateEnvelopeRequest) (core.Envelope, error) {
	env, err := s.engine.CreateEnvelope(ctx, req)
	if err != nil {
		return core.Envelope{}, err
	}
	s.publish(ctx, amqp.NewEnvelopeEvent(amqp.EventEnvelopeCreated, env))
	return env, nil
}

// IngestTransaction normalizes raw using the type it carries and reconciles it.
// An unmatched transaction is stored and reported through Result.Warning.
func (s *BudgetService) IngestTransaction(ctx context.Context, raw core.RawTransactionRecord) (engine.Result, error) {
	tx, err := s.adapter.Normalize(raw, "")
	if err != nil {
		return engine.Result{}, err
	}
	res, err := s.engine.Reconcile(ctx, tx)
	if err != nil {
		return engine.Result{}, err
	}
	s.publish(ctx, amqp.NewTransactionEvent(res.Transaction, res.EnvelopeID))
	return res, nil
}

// BatchReport is the per-record outcome of a batch, in input order.
type BatchReport struct {
	Items     []engine.BatchItem
	Accepted  int
	Unmatched int
	Failed    int
}

// IngestBatch handles each record on its own. Invalid records are rejected
// without affecting the others and nothing is rolled back.
func (s *BudgetService) IngestBatch(ctx context.Context, raws []core.RawTransactionRecord) BatchReport {
	items := make([]engine.BatchItem, len(raws))
	txs := make([]core.Transaction, 0, len(raws))
	positions := make([]int, 0, len(raws))

	for i, raw := range raws {
		tx, err := s.adapter.Normalize(raw, "")
		if err != nil {
			items[i] = engine.BatchItem{Err: err}
			continue
		}
		txs = append(txs, tx)
		positions = append(positions, i)
	}

	for j, item := range s.engine.ReconcileBatch(ctx, txs) {
		items[positions[j]] = item
	}

	rep := BatchReport{Items: items}
	for _, item := range items {
		switch {
		case item.Err != nil:
			rep.Failed++
		case item.Result.Matched():
			rep.Accepted++
			s.publish(ctx, amqp.NewTransactionEvent(item.Result.Transaction, item.Result.EnvelopeID))
		default:
			rep.Accepted++
			rep.Unmatched++
			s.publish(ctx, amqp.NewTransactionEvent(item.Result.Transaction, ""))
		}
	}

	s.logger.InfoContext(ctx, "Batch ingested",
		"records", len(raws),
		"accepted", rep.Accepted,
		"unmatched", rep.Unmatched,
		"failed", rep.Failed)
	return rep
}

// ImportCSV reads an import file and ingests its rows as a batch tagged imported.
func (s *BudgetService) ImportCSV(ctx context.Context, r io.Reader) (BatchReport, error) {
	raws, err := ingest.ReadCSV(r, core.Imported)
	if err != nil {
		return BatchReport{}, fmt.Errorf("import CSV: %w", err)
	}
	return s.IngestBatch(ctx, raws), nil
}

func (s *BudgetService) RebuildEnvelope(ctx context.Context, envelopeID string) (core.Envelope, error) {
	env, err := s.engine.RebuildEnvelope(ctx, envelopeID)
	if err != nil {
		return core.Envelope{}, err
	}
	s.publish(ctx, amqp.NewEnvelopeEvent(amqp.EventEnvelopeRebuilt, env))
	return env, nil
}

// SeedDefaults creates the default envelope set for period. Envelopes that
// already exist are left alone and counted as skipped.
func (s *BudgetService) SeedDefaults(ctx context.Context, period core.Period, tolerance decimal.Decimal) (created []core.Envelope, skipped int, err error) {
	if err := period.Validate(); err != nil {
		return nil, 0, &core.ValidationError{Field: "period", Err: err}
	}
	return s.ApplyPlan(ctx, core.DefaultEnvelopes(period, tolerance))
}

// ApplyPlan creates an envelope per request, skipping keys that already
// have one. It stops at the first other failure.
func (s *BudgetService) ApplyPlan(ctx context.Context, plan []core.CreateEnvelopeRequest) (created []core.Envelope, skipped int, err error) {
	for _, req := range plan {
		env, err := s.CreateEnvelope(ctx, req)
		if errors.Is(err, core.ErrDuplicateEnvelope) {
			skipped++
			continue
		}
		if err != nil {
			return created, skipped, fmt.Errorf("create %s envelope: %w", req.Category, err)
		}
		created = append(created, env)
	}
	return created, skipped, nil
}

// GetAlerts returns the period's alert set in envelope order, or ordered by
// descending severity when bySeverity is set.
func (s *BudgetService) GetAlerts(ctx context.Context, period core.Period, bySeverity bool) ([]variance.Alert, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	alerts, err := s.reporter.Alerts(ctx, period)
	if err != nil {
		return nil, err
	}
	if bySeverity {
		return variance.BySeverity(alerts), nil
	}
	return alerts, nil
}

func (s *BudgetService) GetSummary(ctx context.Context, period core.Period) (report.Summary, error) {
	if err := checkPeriod(period); err != nil {
		return report.Summary{}, err
	}
	return s.reporter.Summary(ctx, period)
}

func (s *BudgetService) GetTimeSeries(ctx context.Context, periods []core.Period) ([]report.SeriesRow, error) {
	for _, p := range periods {
		if err := checkPeriod(p); err != nil {
			return nil, err
		}
	}
	return s.reporter.TimeSeries(ctx, periods)
}

func (s *BudgetService) GetBreakdown(ctx context.Context, period core.Period, typ core.EntryType) ([]report.CategorySlice, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return s.reporter.CategoryBreakdown(ctx, period, typ)
}

func (s *BudgetService) GetComparison(ctx context.Context, period core.Period) ([]report.ComparisonRow, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return s.reporter.Comparison(ctx, period)
}

func (s *BudgetService) GetTransactionTotals(ctx context.Context, period core.Period) (report.TransactionTotals, error) {
	if err := checkPeriod(period); err != nil {
		return report.TransactionTotals{}, err
	}
	return s.reporter.TransactionTotals(ctx, period)
}

func (s *BudgetService) ListEnvelopes(ctx context.Context, period core.Period) ([]core.Envelope, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	return s.store.ListEnvelopes(ctx, period)
}

// ListTransactions returns the period's transactions, most recently ingested first.
func (s *BudgetService) ListTransactions(ctx context.Context, period core.Period) ([]core.Transaction, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, period)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs, nil
}

func (s *BudgetService) publish(ctx context.Context, event *amqp.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	// The ledger is already updated; a lost event only delays the mirror.
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", event.Kind,
			"period", event.Period,
			"error", err)
	}
}

// Close releases the store and the publisher when they hold resources.
func (s *BudgetService) Close() error {
	var errs []error

	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close budget service: %w", errors.Join(errs...))
	}
	return nil
}

func checkPeriod(p core.Period) error {
	if err := p.Validate(); err != nil {
		return &core.ValidationError{Field: "period", Err: err}
	}
	return nil
}
