package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"budgetwatch/internal/core"
)

func fixedAdapter() *Adapter {
	n := 0
	return NewAdapter(
		WithClock(func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("t%d", n) }),
	)
}

func TestNormalizeSignConvention(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		declared core.EntryType
		want     string
	}{
		{"unsigned expense", "50", core.Expense, "-50"},
		{"negative expense", "-50", core.Expense, "-50"},
		{"negative income", "-50", core.Income, "50"},
		{"unsigned income", "4200", core.Income, "4200"},
		{"comma decimal", "12,34", core.Expense, "-12.34"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := fixedAdapter().Normalize(core.RawTransactionRecord{
				Description: "x", Amount: tt.amount, Category: "Food",
			}, tt.declared)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, tx.SignedAmount.String())
			assert.Equal(t, tt.declared, tx.Type)
			assert.NoError(t, tx.Validate())
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	tx, err := fixedAdapter().Normalize(core.RawTransactionRecord{
		Description: "  Supermarket ", Amount: "80", Category: " Groceries ", Type: "EXPENSE",
	}, "")
	assert.NoError(t, err)
	assert.Equal(t, "t1", tx.ID)
	assert.Equal(t, "Supermarket", tx.Description)
	assert.Equal(t, "Groceries", tx.Category)
	assert.Equal(t, core.Expense, tx.Type)
	assert.Equal(t, core.Manual, tx.Source)
	assert.Equal(t, "2024-03-15", tx.Date.String())
	assert.Equal(t, core.Period("2024-03"), tx.Period)
}

func TestNormalizeHonorsRecordDate(t *testing.T) {
	tx, err := fixedAdapter().Normalize(core.RawTransactionRecord{
		Description: "rent", Amount: "900", Category: "Housing", Date: "2023-12-31", Source: core.Imported,
	}, core.Expense)
	assert.NoError(t, err)
	assert.Equal(t, core.Period("2023-12"), tx.Period)
	assert.Equal(t, core.Imported, tx.Source)
}

func TestNormalizeRejects(t *testing.T) {
	valid := core.RawTransactionRecord{Description: "x", Amount: "1", Category: "Food", Type: "expense"}
	tests := []struct {
		name   string
		mutate func(*core.RawTransactionRecord)
		field  string
		want   error
	}{
		{"empty description", func(r *core.RawTransactionRecord) { r.Description = "  " }, "description", core.ErrEmptyDescription},
		{"long description", func(r *core.RawTransactionRecord) { r.Description = strings.Repeat("a", 201) }, "description", ErrDescriptionTooLong},
		{"empty category", func(r *core.RawTransactionRecord) { r.Category = "" }, "category", core.ErrEmptyCategory},
		{"nan amount", func(r *core.RawTransactionRecord) { r.Amount = "NaN" }, "amount", core.ErrInvalidAmount},
		{"inf amount", func(r *core.RawTransactionRecord) { r.Amount = "Inf" }, "amount", core.ErrInvalidAmount},
		{"unknown type", func(r *core.RawTransactionRecord) { r.Type = "transfer" }, "type", core.ErrInvalidType},
		{"bad date", func(r *core.RawTransactionRecord) { r.Date = "31/12/2023" }, "date", core.ErrInvalidDate},
		{"bad source", func(r *core.RawTransactionRecord) { r.Source = "carrier-pigeon" }, "source", core.ErrInvalidSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := valid
			tt.mutate(&raw)
			_, err := fixedAdapter().Normalize(raw, "")
			var verr *core.ValidationError
			assert.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestNormalizeRejectsInvalidDeclaredType(t *testing.T) {
	_, err := fixedAdapter().Normalize(core.RawTransactionRecord{Description: "x", Amount: "1", Category: "c"}, "transfer")
	assert.True(t, errors.Is(err, core.ErrInvalidType))
}

func TestNormalizeUniqueIDs(t *testing.T) {
	a := NewAdapter()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tx, err := a.Normalize(core.RawTransactionRecord{Description: "x", Amount: "1", Category: "c"}, core.Expense)
		assert.NoError(t, err)
		assert.False(t, seen[tx.ID], "duplicate id %s", tx.ID)
		seen[tx.ID] = true
	}
}

func TestNormalizeRejectsUnreadableRow(t *testing.T) {
	readErr := &csv.ParseError{Line: 3, Column: 7, Err: csv.ErrQuote}
	_, err := fixedAdapter().Normalize(core.RawTransactionRecord{Source: core.Imported, ReadErr: readErr}, "")
	var verr *core.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "record", verr.Field)
	assert.True(t, errors.Is(err, csv.ErrQuote))
}
