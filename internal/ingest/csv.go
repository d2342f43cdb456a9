package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"budgetwatch/internal/core"
)

// CSVColumns is the header expected by ReadCSV, in any order.
var CSVColumns = []string{"date", "description", "amount", "category", "type"}

// ReadCSV reads an import file into raw records tagged with source. The
// header row is required; the date column may be empty on individual rows.
// Rows are not validated here, so one bad row never hides the others. A row
// that fails to parse becomes a record carrying ReadErr.
func ReadCSV(r io.Reader, source core.Source) ([]core.RawTransactionRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read CSV header: empty file")
		}
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range CSVColumns {
		if name == "date" {
			continue
		}
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("read CSV header: missing column %q", name)
		}
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var out []core.RawTransactionRecord
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			out = append(out, core.RawTransactionRecord{Source: source, ReadErr: perr})
			continue
		}
		if err != nil {
			return out, fmt.Errorf("read CSV line %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		out = append(out, core.RawTransactionRecord{
			Date:        field(record, "date"),
			Description: field(record, "description"),
			Amount:      field(record, "amount"),
			Category:    field(record, "category"),
			Type:        field(record, "type"),
			Source:      source,
		})
	}
	return out, nil
}
