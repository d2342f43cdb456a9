package cli

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"

	"budgetwatch/internal/core"
	"budgetwatch/internal/sheets"
	"budgetwatch/internal/sheets/google"
	"budgetwatch/internal/sheets/memory"
	"budgetwatch/internal/variance"
)

type EnvelopeCmd struct {
	Create EnvelopeCreateCmd `cmd:"" help:"Create an envelope for a category, type and period."`
	List   EnvelopeListCmd   `cmd:"" help:"List a period's envelopes with their variance."`
}

type EnvelopeCreateCmd struct {
	Category  string `help:"Category name." required:""`
	Type      string `help:"Entry type (${enum})." enum:"income,expense" default:"expense"`
	Period    string `help:"Period as YYYY-MM. Defaults to the current month."`
	Estimated string `help:"Planned amount." required:""`
	Tolerance string `help:"Alert tolerance in percent. Defaults to DEFAULT_TOLERANCE."`
}

func (cmd *EnvelopeCreateCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	period, err := g.period(cmd.Period)
	if err != nil {
		return err
	}
	typ, err := core.ParseEntryType(cmd.Type)
	if err != nil {
		return err
	}
	estimated, err := core.ParseAmount(cmd.Estimated)
	if err != nil {
		return fmt.Errorf("invalid estimated amount %q: %w", cmd.Estimated, err)
	}
	req := core.CreateEnvelopeRequest{Category: cmd.Category, Type: typ, Period: period, Estimated: estimated}
	if cmd.Tolerance != "" {
		tol, err := core.ParseAmount(cmd.Tolerance)
		if err != nil {
			return fmt.Errorf("invalid tolerance %q: %w", cmd.Tolerance, err)
		}
		req.Tolerance = &tol
	}

	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	env, err := s.svc.CreateEnvelope(ctx, req)
	if err != nil {
		return err
	}
	printSuccess(kctx.Stdout, fmt.Sprintf("Created envelope %s", env.ID))
	printPairs(kctx.Stdout, [][2]string{
		{"Category", env.Category},
		{"Type", env.Type.String()},
		{"Period", env.Period.String()},
		{"Estimated", euros(env.Estimated)},
		{"Tolerance", core.FormatPercent(env.Tolerance)},
	})
	return nil
}

type EnvelopeListCmd struct {
	Period string `help:"Period as YYYY-MM. Defaults to the current month."`
}

func (cmd *EnvelopeListCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	period, err := g.period(cmd.Period)
	if err != nil {
		return err
	}
	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	envs, err := s.svc.ListEnvelopes(ctx, period)
	if err != nil {
		return err
	}
	if len(envs) == 0 {
		printInfof(kctx.Stdout, "No envelopes for %s", period)
		return nil
	}

	rows := make([][]string, 0, len(envs))
	for _, env := range envs {
		v, alert := variance.Breaches(env)
		pct := variancePct(v)
		if alert {
			pct = errorStyle.Render(pct)
		}
		rows = append(rows, []string{
			env.ID, env.Category, env.Type.String(),
			euros(env.Estimated), euros(env.Realized), pct,
			core.FormatPercent(env.Tolerance),
		})
	}
	renderTable(kctx.Stdout, []string{"ID", "Category", "Type", "Estimated", "Realized", "Variance", "Tolerance"}, rows)
	return nil
}

type SeedCmd struct {
	Period    string `help:"Period as YYYY-MM. Defaults to the current month."`
	Tolerance string `help:"Fallback tolerance in percent for default envelopes without their own."`
}

func (cmd *SeedCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	period, err := g.period(cmd.Period)
	if err != nil {
		return err
	}
	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	tolerance := s.cfg.DefaultTolerance
	if cmd.Tolerance != "" {
		if tolerance, err = core.ParseAmount(cmd.Tolerance); err != nil {
			return fmt.Errorf("invalid tolerance %q: %w", cmd.Tolerance, err)
		}
	}

	created, skipped, err := s.svc.SeedDefaults(ctx, period, tolerance)
	if err != nil {
		return err
	}
	printSuccess(kctx.Stdout, fmt.Sprintf("Seeded %s: %d created, %d already present", period, len(created), skipped))
	return nil
}

type PlanCmd struct {
	Period string `help:"Period as YYYY-MM. Defaults to the current month."`
	File   string `help:"Plan file with category,type,estimated[,tolerance] lines." type:"existingfile" xor:"source"`
	Sheet  bool   `help:"Read the plan sheet of GOOGLE_SPREADSHEET_ID instead of a file." xor:"source"`
}

func (cmd *PlanCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	period, err := g.period(cmd.Period)
	if err != nil {
		return err
	}
	if cmd.File == "" && !cmd.Sheet {
		return fmt.Errorf("one of --file or --sheet is required")
	}

	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	var reader sheets.PlanReader
	if cmd.Sheet {
		reader, err = google.New(ctx, google.Config{
			SpreadsheetID:   s.cfg.GoogleSpreadsheetID,
			SheetPrefix:     s.cfg.GoogleSheetName,
			CredentialsJSON: s.cfg.GoogleServiceAccountJSON,
			CredentialsFile: s.cfg.GoogleServiceAccountFile,
		})
	} else {
		reader, err = memory.NewFromFile(cmd.File)
	}
	if err != nil {
		return err
	}

	plan, err := reader.ReadPlan(ctx, period)
	if err != nil {
		return err
	}
	created, skipped, err := s.svc.ApplyPlan(ctx, plan)
	if err != nil {
		return err
	}
	printSuccess(kctx.Stdout, fmt.Sprintf("Applied plan to %s: %d created, %d already present", period, len(created), skipped))
	return nil
}

type RebuildCmd struct {
	ID string `arg:"" help:"Envelope ID."`
}

func (cmd *RebuildCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	before, err := s.svc.Store().GetEnvelope(ctx, cmd.ID)
	if err != nil {
		return err
	}
	env, err := s.svc.RebuildEnvelope(ctx, cmd.ID)
	if err != nil {
		return err
	}
	if before.Realized.Equal(env.Realized) {
		printSuccess(kctx.Stdout, fmt.Sprintf("Envelope %s already consistent at %s", env.ID, euros(env.Realized)))
		return nil
	}
	printWarn(kctx.Stdout, fmt.Sprintf("Envelope %s corrected from %s to %s", env.ID, euros(before.Realized), euros(env.Realized)))
	return nil
}
