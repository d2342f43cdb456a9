// Package ingest normalizes raw transaction records from any source into the
// canonical core.Transaction shape and sign convention.
package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"budgetwatch/internal/core"
)

// IDGenerator returns identifiers unique for the lifetime of a ledger.
type IDGenerator func() string

// NewUUID generates random v4 identifiers, safe under batch ingestion where
// many records share the same instant.
func NewUUID() string {
	return uuid.New().String()
}

// Adapter turns raw records into transactions. It never writes to a store.
type Adapter struct {
	newID IDGenerator
	now   func() time.Time
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithIDGenerator replaces the uuid generator, mainly for tests.
func WithIDGenerator(gen IDGenerator) Option {
	return func(a *Adapter) { a.newID = gen }
}

// WithClock replaces time.Now as the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{newID: NewUUID, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Normalize validates raw and produces a Transaction.
//
// declaredType wins over the type carried on the record; pass "" to use the
// record's own type hint. The signed amount is -|amount| for expenses and
// +|amount| for incomes whatever sign the raw amount arrived with. A missing
// date defaults to the ingestion day; a record may always carry its own.
func (a *Adapter) Normalize(raw core.RawTransactionRecord, declaredType core.EntryType) (core.Transaction, error) {
	if raw.ReadErr != nil {
		return core.Transaction{}, &core.ValidationError{Field: "record", Err: raw.ReadErr}
	}

	desc := strings.TrimSpace(raw.Description)
	if desc == "" {
		return core.Transaction{}, &core.ValidationError{Field: "description", Err: core.ErrEmptyDescription}
	}
	if len(desc) > 200 {
		return core.Transaction{}, &core.ValidationError{Field: "description", Err: ErrDescriptionTooLong}
	}

	category := strings.TrimSpace(raw.Category)
	if category == "" {
		return core.Transaction{}, &core.ValidationError{Field: "category", Err: core.ErrEmptyCategory}
	}

	amount, err := core.ParseAmount(raw.Amount)
	if err != nil {
		return core.Transaction{}, &core.ValidationError{Field: "amount", Err: err}
	}

	typ := declaredType
	if typ == "" {
		typ, err = core.ParseEntryType(raw.Type)
		if err != nil {
			return core.Transaction{}, &core.ValidationError{Field: "type", Err: err}
		}
	} else if !typ.IsValid() {
		return core.Transaction{}, &core.ValidationError{Field: "type", Err: core.ErrInvalidType}
	}

	source := raw.Source
	if source == "" {
		source = core.Manual
	}
	if !source.IsValid() {
		return core.Transaction{}, &core.ValidationError{Field: "source", Err: core.ErrInvalidSource}
	}

	date := core.DateOf(a.now())
	if s := strings.TrimSpace(raw.Date); s != "" {
		date, err = core.ParseDate(s)
		if err != nil {
			return core.Transaction{}, &core.ValidationError{Field: "date", Err: err}
		}
	}

	return core.Transaction{
		ID:           a.newID(),
		Description:  desc,
		SignedAmount: Sign(amount.Abs(), typ),
		Category:     category,
		Type:         typ,
		Period:       date.Period(),
		Date:         date,
		Source:       source,
	}, nil
}
