package cli

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"

	"budgetwatch/internal/core"
)

type AlertsCmd struct {
	Period     string `help:"Period as YYYY-MM. Defaults to the current month."`
	BySeverity bool   `help:"Order by largest deviation first."`
}

func (cmd *AlertsCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	period, err := g.period(cmd.Period)
	if err != nil {
		return err
	}
	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	alerts, err := s.svc.GetAlerts(ctx, period, cmd.BySeverity)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		printSuccess(kctx.Stdout, fmt.Sprintf("All envelopes within tolerance for %s", period))
		return nil
	}

	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		direction := "under"
		if a.Over() {
			direction = "over"
		}
		rows = append(rows, []string{
			a.Envelope.Category, a.Envelope.Type.String(),
			euros(a.Envelope.Estimated), euros(a.Envelope.Realized),
			errorStyle.Render(core.FormatPercent(a.Pct)), direction,
			core.FormatPercent(a.Envelope.Tolerance),
		})
	}
	printWarn(kctx.Stdout, fmt.Sprintf("%d envelope(s) outside tolerance for %s", len(alerts), period))
	renderTable(kctx.Stdout, []string{"Category", "Type", "Estimated", "Realized", "Variance", "Direction", "Tolerance"}, rows)
	return nil
}

type SummaryCmd struct {
	Period string `help:"Period as YYYY-MM. Defaults to the current month."`
}

func (cmd *SummaryCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	period, err := g.period(cmd.Period)
	if err != nil {
		return err
	}
	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	sum, err := s.svc.GetSummary(ctx, period)
	if err != nil {
		return err
	}
	totals, err := s.svc.GetTransactionTotals(ctx, period)
	if err != nil {
		return err
	}

	printInfof(kctx.Stdout, "Summary for %s", period)
	printPairs(kctx.Stdout, [][2]string{
		{"Income", euros(sum.TotalIncome)},
		{"Expense", euros(sum.TotalExpense)},
		{"Balance", euros(sum.CurrentBalance)},
		{"Estimated income", euros(sum.EstimatedIncome)},
		{"Estimated expense", euros(sum.EstimatedExpense)},
		{"Estimated balance", euros(sum.EstimatedBalance)},
		{"Transactions", fmt.Sprintf("%d", totals.Count)},
	})
	if totals.UnmatchedCount > 0 {
		printWarn(kctx.Stdout, fmt.Sprintf("%d transaction(s) totalling %s matched no envelope",
			totals.UnmatchedCount, euros(totals.UnmatchedAmount)))
	}
	return nil
}

type SeriesCmd struct {
	From string `help:"First period as YYYY-MM." required:""`
	To   string `help:"Last period as YYYY-MM. Defaults to the current month."`
}

func (cmd *SeriesCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	from, err := g.period(cmd.From)
	if err != nil {
		return err
	}
	to, err := g.period(cmd.To)
	if err != nil {
		return err
	}
	if to < from {
		return fmt.Errorf("--to %s is before --from %s", to, from)
	}
	var periods []core.Period
	for p := from; p <= to; p = p.Next() {
		periods = append(periods, p)
	}

	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	series, err := s.svc.GetTimeSeries(ctx, periods)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(series))
	for _, r := range series {
		rows = append(rows, []string{r.Period.String(), euros(r.Income), euros(r.Expense), euros(r.Balance)})
	}
	renderTable(kctx.Stdout, []string{"Period", "Income", "Expense", "Balance"}, rows)
	return nil
}

type BreakdownCmd struct {
	Period string `help:"Period as YYYY-MM. Defaults to the current month."`
	Type   string `help:"Entry type (${enum})." enum:"income,expense" default:"expense"`
}

func (cmd *BreakdownCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	period, err := g.period(cmd.Period)
	if err != nil {
		return err
	}
	typ, err := core.ParseEntryType(cmd.Type)
	if err != nil {
		return err
	}
	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	slices, err := s.svc.GetBreakdown(ctx, period, typ)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(slices))
	for _, sl := range slices {
		rows = append(rows, []string{sl.Category, euros(sl.Realized), core.FormatPercent(sl.Share)})
	}
	renderTable(kctx.Stdout, []string{"Category", "Realized", "Share"}, rows)
	return nil
}
