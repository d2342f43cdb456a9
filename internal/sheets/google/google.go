// Package google mirrors ledger periods into a Google Sheets spreadsheet and
// reads budget plans from it.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budgetwatch/internal/core"
	"budgetwatch/internal/sheets"
)

// Config selects the spreadsheet and credentials. CredentialsJSON wins over
// CredentialsFile; with neither set GOOGLE_APPLICATION_CREDENTIALS is used.
type Config struct {
	SpreadsheetID   string
	SheetPrefix     string
	PlanSheet       string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetPrefix   string
	planSheet     string

	mu    sync.Mutex
	known map[string]bool
}

var (
	_ sheets.Mirror     = (*Client)(nil)
	_ sheets.PlanReader = (*Client)(nil)
)

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	prefix := strings.TrimSpace(cfg.SheetPrefix)
	if prefix == "" {
		prefix = "Budget"
	}
	plan := strings.TrimSpace(cfg.PlanSheet)
	if plan == "" {
		plan = prefix + " Plan"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetPrefix:   prefix,
		planSheet:     plan,
		known:         make(map[string]bool),
	}, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credentialsJSON := []byte(strings.TrimSpace(cfg.CredentialsJSON))
	file := strings.TrimSpace(cfg.CredentialsFile)
	if len(credentialsJSON) == 0 && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	if len(credentialsJSON) == 0 {
		if file == "" {
			return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
		}
		var err error
		credentialsJSON, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	}

	slog.DebugContext(ctx, "Creating Google Sheets service",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// WritePeriod clears the period's sheet and writes table into it, creating
// the sheet on first use.
func (c *Client) WritePeriod(ctx context.Context, table sheets.PeriodTable) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if err := table.Period.Validate(); err != nil {
		return "", fmt.Errorf("write period: %w", err)
	}

	name := periodSheetName(c.sheetPrefix, table.Period)
	if err := c.ensureSheet(ctx, name); err != nil {
		return "", err
	}

	clearRange := fmt.Sprintf("'%s'!A:G", name)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear %s: %w", clearRange, err)
	}

	values := tableValues(table)
	ref := fmt.Sprintf("'%s'!A1:G%d", name, len(values))
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, ref, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("update %s: %w", ref, err)
	}
	return ref, nil
}

func (c *Client) ensureSheet(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known[name] {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			c.known[sh.Properties.Title] = true
		}
	}
	if c.known[name] {
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: name}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", name, err)
	}
	slog.InfoContext(ctx, "Created mirror sheet", "sheet", name)
	c.known[name] = true
	return nil
}

// ReadPlan reads the plan sheet and returns the envelopes planned for period.
func (c *Client) ReadPlan(ctx context.Context, period core.Period) ([]core.CreateEnvelopeRequest, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("'%s'!A1:E200", c.planSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parsePlan(resp.Values, period)
}

// periodSheetName returns "<prefix> <period>", e.g. "Budget 2024-01".
func periodSheetName(prefix string, period core.Period) string {
	return strings.TrimSpace(prefix) + " " + period.String()
}
