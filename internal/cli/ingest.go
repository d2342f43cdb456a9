package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"budgetwatch/internal/core"
	"budgetwatch/internal/services"
)

type IngestCmd struct {
	Description string `help:"What the money was for." required:""`
	Amount      string `help:"Amount, signed or unsigned." required:""`
	Category    string `help:"Category name." required:""`
	Type        string `help:"Entry type (${enum})." enum:"income,expense" default:"expense"`
	Date        string `help:"Booking date as YYYY-MM-DD. Defaults to today."`
	Source      string `help:"Origin of the record (${enum})." enum:"manual,imported,external_feed" default:"manual"`
}

func (cmd *IngestCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	source, err := core.ParseSource(cmd.Source)
	if err != nil {
		return err
	}
	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.svc.IngestTransaction(ctx, core.RawTransactionRecord{
		Description: cmd.Description,
		Amount:      cmd.Amount,
		Category:    cmd.Category,
		Type:        cmd.Type,
		Date:        cmd.Date,
		Source:      source,
	})
	if err != nil {
		return err
	}

	tx := res.Transaction
	if res.Matched() {
		printSuccess(kctx.Stdout, fmt.Sprintf("Transaction %s reconciled into envelope %s", tx.ID, res.EnvelopeID))
	} else {
		printWarn(kctx.Stdout, fmt.Sprintf("Transaction %s stored without envelope: %v", tx.ID, res.Warning))
	}
	printPairs(kctx.Stdout, [][2]string{
		{"Amount", euros(tx.SignedAmount)},
		{"Category", tx.Category},
		{"Period", tx.Period.String()},
		{"Date", tx.Date.String()},
	})
	return nil
}

type ImportCmd struct {
	File string `arg:"" help:"CSV file with date,description,amount,category,type columns." type:"existingfile"`
}

func (cmd *ImportCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	f, err := os.Open(cmd.File)
	if err != nil {
		return err
	}
	defer f.Close()

	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := s.svc.ImportCSV(ctx, f)
	if err != nil {
		return err
	}
	printBatch(kctx, rep)
	if rep.Failed > 0 {
		return fmt.Errorf("%d of %d records rejected", rep.Failed, len(rep.Items))
	}
	return nil
}

// printBatch lists rejected and unmatched records, then the totals. Record
// numbers count from 1, matching the data rows of the file.
func printBatch(kctx *kong.Context, rep services.BatchReport) {
	for i, item := range rep.Items {
		switch {
		case item.Err != nil:
			printError(kctx.Stdout, fmt.Sprintf("record %d: %v", i+1, item.Err))
		case !item.Result.Matched():
			printWarn(kctx.Stdout, fmt.Sprintf("record %d: no envelope for %s", i+1, item.Result.Transaction.Key()))
		}
	}
	printInfof(kctx.Stdout, "%d accepted, %d without envelope, %d rejected", rep.Accepted, rep.Unmatched, rep.Failed)
}

type TransactionsCmd struct {
	Period string `help:"Period as YYYY-MM. Defaults to the current month."`
}

func (cmd *TransactionsCmd) Run(kctx *kong.Context, g *Globals, ctx context.Context) error {
	period, err := g.period(cmd.Period)
	if err != nil {
		return err
	}
	s, err := g.open(ctx, kctx.Stderr)
	if err != nil {
		return err
	}
	defer s.Close()

	txs, err := s.svc.ListTransactions(ctx, period)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		printInfof(kctx.Stdout, "No transactions for %s", period)
		return nil
	}
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, []string{tx.Date.String(), tx.Description, tx.Category, tx.Type.String(), euros(tx.SignedAmount), string(tx.Source)})
	}
	renderTable(kctx.Stdout, []string{"Date", "Description", "Category", "Type", "Amount", "Source"}, rows)
	return nil
}
