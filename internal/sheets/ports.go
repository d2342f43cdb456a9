// Package sheets defines the ports used to mirror the ledger into a
// spreadsheet and to read budget plans out of one.
package sheets

import (
	"context"
	"time"

	"budgetwatch/internal/core"
	"budgetwatch/internal/report"
)

type (
	// PeriodTable is the view of one period pushed to a mirror.
	PeriodTable struct {
		Period    core.Period
		Rows      []report.ComparisonRow
		Summary   report.Summary
		UpdatedAt time.Time
	}

	// Mirror replaces the stored copy of a period with table.
	Mirror interface {
		WritePeriod(ctx context.Context, table PeriodTable) (ref string, err error)
	}

	// PlanReader reads planned envelopes for a period from an external sheet.
	PlanReader interface {
		ReadPlan(ctx context.Context, period core.Period) ([]core.CreateEnvelopeRequest, error)
	}
)
