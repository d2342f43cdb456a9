// Package memory is an in-process sheets.Mirror and sheets.PlanReader used
// when no spreadsheet is configured and in tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"budgetwatch/internal/core"
	"budgetwatch/internal/sheets"
)

type Store struct {
	mu     sync.Mutex
	tables map[core.Period]sheets.PeriodTable
	writes int
	plan   []core.CreateEnvelopeRequest
}

var (
	_ sheets.Mirror     = (*Store)(nil)
	_ sheets.PlanReader = (*Store)(nil)
)

func New() *Store {
	return &Store{tables: make(map[core.Period]sheets.PeriodTable)}
}

// NewWithPlan returns a store whose ReadPlan serves plan for every period.
func NewWithPlan(plan []core.CreateEnvelopeRequest) *Store {
	s := New()
	s.plan = append([]core.CreateEnvelopeRequest(nil), plan...)
	return s
}

// NewFromFile loads a plan from a text file of "category,type,estimated[,tolerance]"
// lines. Blank lines and lines starting with # are ignored.
func NewFromFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan file: %w", err)
	}
	defer f.Close()

	var plan []core.CreateEnvelopeRequest
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		req, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("plan line %d: %w", line, err)
		}
		plan = append(plan, req)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return NewWithPlan(plan), nil
}

func parseLine(text string) (core.CreateEnvelopeRequest, error) {
	parts := strings.Split(text, ",")
	if len(parts) < 3 || len(parts) > 4 {
		return core.CreateEnvelopeRequest{}, fmt.Errorf("want 3 or 4 fields, got %d", len(parts))
	}
	typ, err := core.ParseEntryType(parts[1])
	if err != nil {
		return core.CreateEnvelopeRequest{}, err
	}
	estimated, err := core.ParseAmount(parts[2])
	if err != nil {
		return core.CreateEnvelopeRequest{}, err
	}
	req := core.CreateEnvelopeRequest{
		Category:  strings.TrimSpace(parts[0]),
		Type:      typ,
		Estimated: estimated,
	}
	if len(parts) == 4 && strings.TrimSpace(parts[3]) != "" {
		tol, err := core.ParseAmount(parts[3])
		if err != nil {
			return core.CreateEnvelopeRequest{}, err
		}
		req.Tolerance = &tol
	}
	return req, nil
}

// WritePeriod replaces the stored table and returns a synthetic reference.
func (s *Store) WritePeriod(_ context.Context, table sheets.PeriodTable) (string, error) {
	if err := table.Period.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table.Period] = table
	s.writes++
	return fmt.Sprintf("mem:%s:%d", table.Period, s.writes), nil
}

// Table returns the last table written for period.
func (s *Store) Table(period core.Period) (sheets.PeriodTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[period]
	return t, ok
}

// Writes counts WritePeriod calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) ReadPlan(_ context.Context, period core.Period) ([]core.CreateEnvelopeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.CreateEnvelopeRequest, len(s.plan))
	for i, req := range s.plan {
		req.Period = period
		out[i] = req
	}
	return out, nil
}
