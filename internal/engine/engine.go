// Package engine is the Reconciliation Engine. It is the only writer of the
// ledger: envelope creation, transaction reconciliation and envelope rebuilds
// all go through an Engine, which serializes them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
	"budgetwatch/internal/ledger"
)

// Result is the outcome of reconciling one transaction.
type Result struct {
	Transaction core.Transaction
	// EnvelopeID is empty when the transaction matched no envelope.
	EnvelopeID string
	// Warning is set for unmatched transactions. It is not a failure: the
	// transaction was stored.
	Warning *core.UnmatchedTransactionWarning
}

// Matched reports whether the transaction was absorbed by an envelope.
func (r Result) Matched() bool {
	return r.EnvelopeID != ""
}

// BatchItem is the per-record outcome of ReconcileBatch. Exactly one of
// Result and Err is meaningful.
type BatchItem struct {
	Result Result
	Err    error
}

type Engine struct {
	store            ledger.Store
	logger           *slog.Logger
	defaultTolerance decimal.Decimal
	newID            func() string
	now              func() time.Time

	// mu serializes every mutation of the store.
	mu sync.Mutex
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithDefaultTolerance sets the tolerance given to envelopes created without one.
func WithDefaultTolerance(tolerance decimal.Decimal) Option {
	return func(e *Engine) { e.defaultTolerance = tolerance }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            store,
		logger:           slog.Default(),
		defaultTolerance: core.DefaultTolerance,
		newID:            func() string { return uuid.New().String() },
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying ledger for read-only consumers.
func (e *Engine) Store() ledger.Store {
	return e.store
}

// CreateEnvelope validates req and stores a new envelope with realized = 0.
// A second envelope for the same (category, type, period) is rejected with
// core.ErrDuplicateEnvelope. Reusing a category in another period is fine.
func (e *Engine) CreateEnvelope(ctx context.Context, req core.CreateEnvelopeRequest) (core.Envelope, error) {
	req.Category = strings.TrimSpace(req.Category)
	if err := req.Validate(); err != nil {
		return core.Envelope{}, err
	}

	tolerance := e.defaultTolerance
	if req.Tolerance != nil {
		tolerance = *req.Tolerance
	}

	env := core.Envelope{
		ID:        e.newID(),
		Category:  req.Category,
		Type:      req.Type,
		Period:    req.Period,
		Estimated: req.Estimated,
		Realized:  decimal.Zero,
		Tolerance: tolerance,
		CreatedAt: e.now().UTC(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.store.FindEnvelopes(ctx, env.Key())
	if err != nil {
		return core.Envelope{}, fmt.Errorf("find envelopes: %w", err)
	}
	if len(existing) > 0 {
		return core.Envelope{}, fmt.Errorf("%w: %s", core.ErrDuplicateEnvelope, env.Key())
	}
	if err := e.store.InsertEnvelope(ctx, env); err != nil {
		return core.Envelope{}, fmt.Errorf("insert envelope: %w", err)
	}

	e.logger.InfoContext(ctx, "Envelope created",
		"envelope_id", env.ID,
		"category", env.Category,
		"entry_type", env.Type,
		"period", env.Period,
		"estimated", env.Estimated.String())
	return env, nil
}

// Reconcile stores tx and adds its magnitude to the matching envelope.
//
// With no matching envelope the transaction is still stored and the result
// carries an UnmatchedTransactionWarning. With more than one match it fails
// with *core.AmbiguousMatchError and nothing is stored.
func (e *Engine) Reconcile(ctx context.Context, tx core.Transaction) (Result, error) {
	if err := tx.Validate(); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconcileLocked(ctx, tx)
}

func (e *Engine) reconcileLocked(ctx context.Context, tx core.Transaction) (Result, error) {
	key := tx.Key()
	matches, err := e.store.FindEnvelopes(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("find envelopes: %w", err)
	}

	switch len(matches) {
	case 0:
		if err := e.store.AppendTransaction(ctx, tx, ""); err != nil {
			return Result{}, fmt.Errorf("append transaction: %w", err)
		}
		warning := &core.UnmatchedTransactionWarning{TransactionID: tx.ID, Key: key}
		e.logger.WarnContext(ctx, "Transaction has no matching envelope",
			"transaction_id", tx.ID,
			"envelope_key", key.String())
		return Result{Transaction: tx, Warning: warning}, nil

	case 1:
		env := matches[0]
		if err := e.store.AppendTransaction(ctx, tx, env.ID); err != nil {
			return Result{}, fmt.Errorf("append transaction: %w", err)
		}
		e.logger.DebugContext(ctx, "Transaction reconciled",
			"transaction_id", tx.ID,
			"envelope_id", env.ID,
			"amount", tx.Magnitude().String())
		return Result{Transaction: tx, EnvelopeID: env.ID}, nil

	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		e.logger.ErrorContext(ctx, "Ambiguous envelope match",
			"transaction_id", tx.ID,
			"envelope_key", key.String(),
			"envelope_ids", ids)
		return Result{}, &core.AmbiguousMatchError{Key: key, EnvelopeIDs: ids}
	}
}

// ReconcileBatch reconciles txs one by one in input order. Records are
// independent: a failing record never rolls back or blocks its siblings.
// If ctx is cancelled the remaining records are reported with ctx.Err()
// and left unstored.
func (e *Engine) ReconcileBatch(ctx context.Context, txs []core.Transaction) []BatchItem {
	items := make([]BatchItem, len(txs))

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			items[i] = BatchItem{Err: err}
			continue
		}
		if err := tx.Validate(); err != nil {
			items[i] = BatchItem{Err: err}
			continue
		}
		res, err := e.reconcileLocked(ctx, tx)
		items[i] = BatchItem{Result: res, Err: err}
	}
	return items
}

// RebuildEnvelope recomputes realized as the sum of magnitudes of every
// stored transaction carrying the envelope's key. Calling it repeatedly
// yields the same total.
func (e *Engine) RebuildEnvelope(ctx context.Context, envelopeID string) (core.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	env, err := e.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return core.Envelope{}, fmt.Errorf("get envelope %s: %w", envelopeID, err)
	}

	matches, err := e.store.FindEnvelopes(ctx, env.Key())
	if err != nil {
		return core.Envelope{}, fmt.Errorf("find envelopes: %w", err)
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return core.Envelope{}, &core.AmbiguousMatchError{Key: env.Key(), EnvelopeIDs: ids}
	}

	txs, err := e.store.TransactionsByKey(ctx, env.Key())
	if err != nil {
		return core.Envelope{}, fmt.Errorf("transactions for %s: %w", env.Key(), err)
	}
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Magnitude())
	}

	if !total.Equal(env.Realized) {
		e.logger.WarnContext(ctx, "Envelope realized total drifted",
			"envelope_id", env.ID,
			"stored", env.Realized.String(),
			"rebuilt", total.String())
	}
	if err := e.store.SetRealized(ctx, env.ID, total); err != nil {
		return core.Envelope{}, fmt.Errorf("set realized: %w", err)
	}
	env.Realized = total
	return env, nil
}
