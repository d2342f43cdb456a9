// Package worker keeps an external mirror of the ledger up to date and
// reports alert transitions as events arrive.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"budgetwatch/internal/amqp"
	"budgetwatch/internal/core"
	"budgetwatch/internal/ledger"
	"budgetwatch/internal/report"
	"budgetwatch/internal/sheets"
)

// MirrorWorker recomputes a period's comparison table from the ledger and
// pushes it to a sheets.Mirror. It never writes to the ledger.
type MirrorWorker struct {
	store    ledger.Store
	reporter *report.Reporter
	mirror   sheets.Mirror
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	alerted map[string]bool
}

func NewMirrorWorker(store ledger.Store, mirror sheets.Mirror, logger *slog.Logger) *MirrorWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorWorker{
		store:    store,
		reporter: report.New(store),
		mirror:   mirror,
		logger:   logger,
		now:      time.Now,
		alerted:  make(map[string]bool),
	}
}

// HandleEvent is the amqp consumer callback. Returning an error requeues
// the event.
func (w *MirrorWorker) HandleEvent(ctx context.Context, event *amqp.LedgerEvent) error {
	w.logger.DebugContext(ctx, "Processing ledger event",
		"kind", event.Kind,
		"period", event.Period,
		"envelope_id", event.EnvelopeID,
		"transaction_id", event.TransactionID)

	if event.Kind == amqp.EventTransactionUnmatched {
		w.logger.WarnContext(ctx, "Transaction without envelope",
			"transaction_id", event.TransactionID,
			"category", event.Category,
			"period", event.Period)
	}
	return w.SyncPeriod(ctx, event.Period)
}

// SyncPeriod mirrors one period and logs envelopes entering or leaving the
// alert set since the previous sync.
func (w *MirrorWorker) SyncPeriod(ctx context.Context, period core.Period) error {
	envs, err := w.store.ListEnvelopes(ctx, period)
	if err != nil {
		return fmt.Errorf("list envelopes: %w", err)
	}
	rows := report.Compare(envs)
	table := sheets.PeriodTable{
		Period:    period,
		Rows:      rows,
		Summary:   report.Summarize(period, envs),
		UpdatedAt: w.now(),
	}

	w.trackAlerts(ctx, rows)

	ref, err := w.mirror.WritePeriod(ctx, table)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", period, err)
	}
	w.logger.InfoContext(ctx, "Mirrored period",
		"period", period,
		"envelopes", len(rows),
		"ref", ref)
	return nil
}

func (w *MirrorWorker) trackAlerts(ctx context.Context, rows []report.ComparisonRow) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, row := range rows {
		was := w.alerted[row.EnvelopeID]
		switch {
		case row.Alert && !was:
			w.logger.WarnContext(ctx, "Envelope out of tolerance",
				"envelope_id", row.EnvelopeID,
				"category", row.Category,
				"entry_type", row.Type,
				"variance_pct", row.Variance.String(),
				"tolerance_pct", row.Tolerance.String())
		case !row.Alert && was:
			w.logger.InfoContext(ctx, "Envelope back within tolerance",
				"envelope_id", row.EnvelopeID,
				"category", row.Category)
		}
		if row.Alert {
			w.alerted[row.EnvelopeID] = true
		} else {
			delete(w.alerted, row.EnvelopeID)
		}
	}
}

// Alerting returns the ids of envelopes currently known to be in alert, sorted.
func (w *MirrorWorker) Alerting() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.alerted))
	for id := range w.alerted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RefreshAll mirrors every period that has envelopes. It is the backstop
// for events lost while the broker was unreachable.
func (w *MirrorWorker) RefreshAll(ctx context.Context) error {
	envs, err := w.store.ListEnvelopes(ctx)
	if err != nil {
		return fmt.Errorf("list envelopes: %w", err)
	}
	seen := make(map[core.Period]bool)
	var periods []core.Period
	for _, env := range envs {
		if !seen[env.Period] {
			seen[env.Period] = true
			periods = append(periods, env.Period)
		}
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	var errs []error
	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.SyncPeriod(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run refreshes every interval until ctx is done.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) error {
	if err := w.RefreshAll(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Initial refresh failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.RefreshAll(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Periodic refresh failed", "error", err)
			}
		}
	}
}
