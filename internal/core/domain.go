package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  EntryType = "income"
	Expense EntryType = "expense"
)

const (
	Manual       Source = "manual"
	Imported     Source = "imported"
	ExternalFeed Source = "external_feed"
)

type (
	// EntryType tells whether an envelope or transaction is money in or money out.
	EntryType string

	// Source records where a transaction came from. It never affects reconciliation.
	Source string

	// EnvelopeKey is the matching key shared by envelopes and transactions.
	EnvelopeKey struct {
		Category string
		Type     EntryType
		Period   Period
	}

	// Envelope is a budgeted category for one period.
	Envelope struct {
		ID        string
		Category  string
		Type      EntryType
		Period    Period
		Estimated decimal.Decimal
		Realized  decimal.Decimal
		// Tolerance is a percentage: 20 means an alert fires past ±20%.
		Tolerance decimal.Decimal
		CreatedAt time.Time
	}

	// Transaction is immutable once ingested. SignedAmount is negative for
	// expenses and positive for incomes.
	Transaction struct {
		ID           string
		Description  string
		SignedAmount decimal.Decimal
		Category     string
		Type         EntryType
		Period       Period
		Date         Date
		Source       Source
	}

	// CreateEnvelopeRequest is the validated input for envelope creation.
	// A nil Tolerance means "use the configured default".
	CreateEnvelopeRequest struct {
		Category  string
		Type      EntryType
		Period    Period
		Estimated decimal.Decimal
		Tolerance *decimal.Decimal
	}

	// RawTransactionRecord is a transaction as it arrives from a form, an
	// import file or a feed. Amount may be signed or unsigned.
	RawTransactionRecord struct {
		Description string
		Amount      string
		Category    string
		Type        string
		Date        string
		Source      Source
		// ReadErr is set when the row could not be parsed from its file.
		ReadErr error
	}
)

// ParseEntryType accepts "income" or "expense" in any case.
func ParseEntryType(s string) (EntryType, error) {
	switch EntryType(strings.ToLower(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	default:
		return "", ErrInvalidType
	}
}

func (t EntryType) IsValid() bool {
	return t == Income || t == Expense
}

func (t EntryType) String() string {
	return string(t)
}

// ParseSource accepts the canonical source names plus "api" as an alias of
// external_feed. An empty string defaults to manual.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Manual):
		return Manual, nil
	case string(Imported), "import":
		return Imported, nil
	case string(ExternalFeed), "api", "feed":
		return ExternalFeed, nil
	default:
		return "", ErrInvalidSource
	}
}

func (s Source) IsValid() bool {
	return s == Manual || s == Imported || s == ExternalFeed
}

func (k EnvelopeKey) String() string {
	return k.Period.String() + "/" + string(k.Type) + "/" + k.Category
}

// Key returns the matching key of the envelope.
func (e Envelope) Key() EnvelopeKey {
	return EnvelopeKey{Category: e.Category, Type: e.Type, Period: e.Period}
}

// Key returns the matching key of the transaction.
func (t Transaction) Key() EnvelopeKey {
	return EnvelopeKey{Category: t.Category, Type: t.Type, Period: t.Period}
}

// Magnitude is the unsigned amount the transaction contributes to its envelope.
func (t Transaction) Magnitude() decimal.Decimal {
	return t.SignedAmount.Abs()
}

func (r CreateEnvelopeRequest) Validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	if len(r.Category) > 100 {
		return &ValidationError{Field: "category", Err: ErrCategoryTooLong}
	}
	if !r.Type.IsValid() {
		return &ValidationError{Field: "type", Err: ErrInvalidType}
	}
	if err := r.Period.Validate(); err != nil {
		return &ValidationError{Field: "period", Err: err}
	}
	if r.Estimated.IsNegative() {
		return &ValidationError{Field: "estimated", Err: ErrNegativeEstimate}
	}
	if r.Tolerance != nil && r.Tolerance.IsNegative() {
		return &ValidationError{Field: "tolerance", Err: ErrNegativeTolerance}
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &ValidationError{Field: "id", Err: ErrEmptyID}
	}
	if strings.TrimSpace(t.Description) == "" {
		return &ValidationError{Field: "description", Err: ErrEmptyDescription}
	}
	if strings.TrimSpace(t.Category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	if !t.Type.IsValid() {
		return &ValidationError{Field: "type", Err: ErrInvalidType}
	}
	if err := t.Period.Validate(); err != nil {
		return &ValidationError{Field: "period", Err: err}
	}
	switch {
	case t.Type == Expense && t.SignedAmount.IsPositive(),
		t.Type == Income && t.SignedAmount.IsNegative():
		return &ValidationError{Field: "amount", Err: ErrSignMismatch}
	}
	return nil
}
