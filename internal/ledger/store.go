// Package ledger defines the Ledger Store: the set of budget envelopes and the
// set of transactions, with identity and lookup but no domain rules.
//
// Stores never decide how a transaction is matched. The reconciliation engine
// does that and tells the store which envelope, if any, absorbs the amount.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
)

// Store is implemented by MemoryStore and by storage.SQLiteRepository.
//
// Every read returns copies taken at a single point in time, so callers never
// observe an envelope halfway through an update.
type Store interface {
	// InsertEnvelope stores a new envelope. Uniqueness of the envelope key is
	// the engine's job; stores accept what they are given.
	InsertEnvelope(ctx context.Context, env core.Envelope) error

	// GetEnvelope returns core.ErrEnvelopeNotFound for unknown ids.
	GetEnvelope(ctx context.Context, id string) (core.Envelope, error)

	// FindEnvelopes returns every envelope carrying key, in creation order.
	FindEnvelopes(ctx context.Context, key core.EnvelopeKey) ([]core.Envelope, error)

	// ListEnvelopes returns envelopes of the given periods (all when none are
	// given) in creation order.
	ListEnvelopes(ctx context.Context, periods ...core.Period) ([]core.Envelope, error)

	// AppendTransaction stores tx. When envelopeID is not empty the magnitude
	// of tx is added to that envelope's realized total in the same step.
	AppendTransaction(ctx context.Context, tx core.Transaction, envelopeID string) error

	// ListTransactions returns transactions of the given periods (all when
	// none are given) in ingestion order.
	ListTransactions(ctx context.Context, periods ...core.Period) ([]core.Transaction, error)

	// TransactionsByKey returns stored transactions carrying key, in ingestion order.
	TransactionsByKey(ctx context.Context, key core.EnvelopeKey) ([]core.Transaction, error)

	// SetRealized overwrites an envelope's realized total.
	SetRealized(ctx context.Context, envelopeID string, realized decimal.Decimal) error
}

func periodFilter(periods []core.Period) func(core.Period) bool {
	if len(periods) == 0 {
		return func(core.Period) bool { return true }
	}
	set := make(map[core.Period]struct{}, len(periods))
	for _, p := range periods {
		set[p] = struct{}{}
	}
	return func(p core.Period) bool {
		_, ok := set[p]
		return ok
	}
}
