package google

import (
	"fmt"
	"strings"

	"budgetwatch/internal/core"
	"budgetwatch/internal/sheets"
)

var tableHeader = []any{"Category", "Type", "Estimated", "Realized", "Variance", "Tolerance", "Alert"}

// tableValues lays out a period table: header, one row per envelope, then
// the totals block.
func tableValues(table sheets.PeriodTable) [][]any {
	values := make([][]any, 0, len(table.Rows)+6)
	values = append(values, tableHeader)
	for _, row := range table.Rows {
		alert := ""
		if row.Alert {
			alert = "ALERT"
		}
		values = append(values, []any{
			row.Category,
			string(row.Type),
			row.Estimated.StringFixed(2),
			row.Realized.StringFixed(2),
			row.Variance.String(),
			row.Tolerance.String() + "%",
			alert,
		})
	}
	s := table.Summary
	values = append(values,
		[]any{},
		[]any{"Total income", "", s.EstimatedIncome.StringFixed(2), s.TotalIncome.StringFixed(2)},
		[]any{"Total expense", "", s.EstimatedExpense.StringFixed(2), s.TotalExpense.StringFixed(2)},
		[]any{"Balance", "", s.EstimatedBalance.StringFixed(2), s.CurrentBalance.StringFixed(2)},
		[]any{"Updated", table.UpdatedAt.UTC().Format("2006-01-02 15:04:05")},
	)
	return values
}

// parsePlan reads a plan sheet with a Category, Type, Estimated and optional
// Tolerance header, and an optional Period column restricting rows to one
// month. Rows that fail to parse are skipped and reported together.
func parsePlan(values [][]any, period core.Period) ([]core.CreateEnvelopeRequest, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := toStrings(values[0])
	colCategory := indexOf(headers, "Category")
	colType := indexOf(headers, "Type")
	colEstimated := indexOf(headers, "Estimated")
	colTolerance := indexOf(headers, "Tolerance")
	colPeriod := indexOf(headers, "Period")

	if colCategory == -1 || colType == -1 || colEstimated == -1 {
		missing := make([]string, 0, 3)
		if colCategory == -1 {
			missing = append(missing, "Category")
		}
		if colType == -1 {
			missing = append(missing, "Type")
		}
		if colEstimated == -1 {
			missing = append(missing, "Estimated")
		}
		return nil, fmt.Errorf("unexpected plan header: missing %s; got headers=%v", strings.Join(missing, ","), headers)
	}

	var (
		out []core.CreateEnvelopeRequest
		bad []string
	)
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		category := safeGet(row, colCategory)
		if category == "" || strings.HasPrefix(category, "#") {
			continue
		}
		if colPeriod != -1 {
			if p := safeGet(row, colPeriod); p != "" && p != period.String() {
				continue
			}
		}

		typ, err := core.ParseEntryType(safeGet(row, colType))
		if err != nil {
			bad = append(bad, fmt.Sprintf("row %d: type", i+1))
			continue
		}
		estimated, err := core.ParseAmount(strings.TrimPrefix(safeGet(row, colEstimated), "€"))
		if err != nil {
			bad = append(bad, fmt.Sprintf("row %d: estimated", i+1))
			continue
		}
		req := core.CreateEnvelopeRequest{
			Category:  category,
			Type:      typ,
			Period:    period,
			Estimated: estimated,
		}
		if tol := strings.TrimSuffix(safeGet(row, colTolerance), "%"); tol != "" {
			t, err := core.ParseAmount(tol)
			if err != nil {
				bad = append(bad, fmt.Sprintf("row %d: tolerance", i+1))
				continue
			}
			req.Tolerance = &t
		}
		out = append(out, req)
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("plan rows skipped: %s", strings.Join(bad, "; "))
	}
	return out, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return strings.TrimSpace(arr[idx])
}
