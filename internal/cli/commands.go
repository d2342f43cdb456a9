package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"budgetwatch/internal/config"
	"budgetwatch/internal/core"
	"budgetwatch/internal/log"
	"budgetwatch/internal/services"
)

var (
	// Version and CommitSHA are set via ldflags when building.
	Version   = ""
	CommitSHA = ""
)

// Globals defines global flags available to all commands.
type Globals struct {
	Backend  string `help:"Ledger backend (${enum})." enum:"sqlite,memory" default:"sqlite" env:"DATA_BACKEND"`
	DB       string `help:"SQLite database path." name:"db" default:"./data/budgetwatch.db" env:"SQLITE_DB_PATH"`
	LogLevel string `help:"Log level written to stderr." enum:"debug,info,warn,error" default:"warn"`
}

type Commands struct {
	Globals

	Version kong.VersionFlag `help:"Show version information."`

	Envelope     EnvelopeCmd     `cmd:"" help:"Create and list envelopes."`
	Seed         SeedCmd         `cmd:"" help:"Create the default envelope set for a period."`
	Plan         PlanCmd         `cmd:"" help:"Create envelopes from a plan file or the plan sheet."`
	Rebuild      RebuildCmd      `cmd:"" help:"Recompute an envelope's realized amount from its transactions."`
	Ingest       IngestCmd       `cmd:"" help:"Ingest a single transaction."`
	Import       ImportCmd       `cmd:"" help:"Import transactions from a CSV file."`
	Transactions TransactionsCmd `cmd:"" help:"List a period's transactions, newest first."`
	Alerts       AlertsCmd       `cmd:"" help:"Show envelopes outside their tolerance."`
	Summary      SummaryCmd      `cmd:"" help:"Show a period's totals and balances."`
	Series       SeriesCmd       `cmd:"" help:"Show income, expense and balance over a range of periods."`
	Breakdown    BreakdownCmd    `cmd:"" help:"Show each category's share of a period's total."`
}

// Run parses args and executes the selected command.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cmds Commands
	parser, err := kong.New(&cmds,
		kong.Name("budgetctl"),
		kong.Description("Operate the budget ledger: envelopes, transactions and variance reports."),
		kong.UsageOnError(),
		kong.Vars{"version": BuildVersion()},
		kong.Writers(stdout, stderr),
		kong.Bind(&cmds.Globals),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run()
}

func BuildVersion() string {
	v := Version
	if v == "" {
		v = "dev"
	}
	if CommitSHA == "" {
		return v
	}
	return fmt.Sprintf("%s (%s)", v, CommitSHA)
}

// session is an opened ledger for the duration of one command.
type session struct {
	svc     *services.BudgetService
	cfg     *config.Config
	cleanup func() error
}

func (s *session) Close() error {
	if s.cleanup == nil {
		return nil
	}
	return s.cleanup()
}

// open loads the environment configuration, applies the global flags and
// opens the ledger. Logs go to stderr so stdout stays readable.
func (g *Globals) open(ctx context.Context, stderr io.Writer) (*session, error) {
	cfg := config.Load()
	cfg.DataBackend = g.Backend
	cfg.SQLiteDBPath = g.DB
	cfg.LogLevel = g.LogLevel
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lvl, _ := config.ParseLogLevel(g.LogLevel)
	logger := log.New(log.Config{Level: lvl, Component: log.ComponentApp, Output: stderr})
	svc, cleanup, err := OpenService(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{svc: svc, cfg: cfg, cleanup: cleanup}, nil
}

// period parses a YYYY-MM flag, defaulting to the current month.
func (g *Globals) period(s string) (core.Period, error) {
	if strings.TrimSpace(s) == "" {
		return core.PeriodOf(time.Now()), nil
	}
	p, err := core.ParsePeriod(s)
	if err != nil {
		return "", fmt.Errorf("invalid period %q: %w", s, err)
	}
	return p, nil
}
