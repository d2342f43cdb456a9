package http

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/core"
	"budgetwatch/internal/engine"
	"budgetwatch/internal/report"
	"budgetwatch/internal/services"
	"budgetwatch/internal/variance"
)

// Amounts travel as fixed two-decimal strings; percentages keep two decimals.

type envelopeDTO struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Type      string    `json:"type"`
	Period    string    `json:"period"`
	Estimated string    `json:"estimated"`
	Realized  string    `json:"realized"`
	Tolerance string    `json:"tolerance"`
	Variance  *string   `json:"variance_pct"`
	Alert     bool      `json:"alert"`
	CreatedAt time.Time `json:"created_at"`
}

type transactionDTO struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Period      string `json:"period"`
	Date        string `json:"date"`
	Source      string `json:"source"`
}

type ingestResultDTO struct {
	Transaction transactionDTO `json:"transaction"`
	EnvelopeID  string         `json:"envelope_id,omitempty"`
	Matched     bool           `json:"matched"`
	Warning     string         `json:"warning,omitempty"`
}

type batchItemDTO struct {
	Index  int              `json:"index"`
	Status string           `json:"status"`
	Result *ingestResultDTO `json:"result,omitempty"`
	Error  *ErrorDetail     `json:"error,omitempty"`
}

type batchDTO struct {
	Accepted  int            `json:"accepted"`
	Unmatched int            `json:"unmatched"`
	Failed    int            `json:"failed"`
	Items     []batchItemDTO `json:"items"`
}

type alertDTO struct {
	EnvelopeID string `json:"envelope_id"`
	Category   string `json:"category"`
	Type       string `json:"type"`
	Period     string `json:"period"`
	Estimated  string `json:"estimated"`
	Realized   string `json:"realized"`
	Tolerance  string `json:"tolerance"`
	Variance   string `json:"variance_pct"`
	Direction  string `json:"direction"`
}

type summaryDTO struct {
	Period           string `json:"period"`
	TotalIncome      string `json:"total_income"`
	TotalExpense     string `json:"total_expense"`
	CurrentBalance   string `json:"current_balance"`
	EstimatedIncome  string `json:"estimated_income"`
	EstimatedExpense string `json:"estimated_expense"`
	EstimatedBalance string `json:"estimated_balance"`
}

type totalsDTO struct {
	Period          string `json:"period"`
	Income          string `json:"income"`
	Expense         string `json:"expense"`
	Balance         string `json:"balance"`
	Count           int    `json:"count"`
	UnmatchedCount  int    `json:"unmatched_count"`
	UnmatchedAmount string `json:"unmatched_amount"`
}

type seriesRowDTO struct {
	Period  string `json:"period"`
	Income  string `json:"income"`
	Expense string `json:"expense"`
	Balance string `json:"balance"`
}

type sliceDTO struct {
	Category string `json:"category"`
	Realized string `json:"realized"`
	Share    string `json:"share_pct"`
}

type comparisonRowDTO struct {
	EnvelopeID string  `json:"envelope_id"`
	Category   string  `json:"category"`
	Type       string  `json:"type"`
	Estimated  string  `json:"estimated"`
	Realized   string  `json:"realized"`
	Tolerance  string  `json:"tolerance"`
	Variance   *string `json:"variance_pct"`
	Alert      bool    `json:"alert"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func pct(r variance.Result) *string {
	if !r.Defined {
		return nil
	}
	s := r.Pct.StringFixed(2)
	return &s
}

func toEnvelopeDTO(env core.Envelope) envelopeDTO {
	v, alert := variance.Breaches(env)
	return envelopeDTO{
		ID:        env.ID,
		Category:  env.Category,
		Type:      env.Type.String(),
		Period:    env.Period.String(),
		Estimated: money(env.Estimated),
		Realized:  money(env.Realized),
		Tolerance: env.Tolerance.String(),
		Variance:  pct(v),
		Alert:     alert,
		CreatedAt: env.CreatedAt,
	}
}

func toEnvelopeDTOs(envs []core.Envelope) []envelopeDTO {
	out := make([]envelopeDTO, 0, len(envs))
	for _, env := range envs {
		out = append(out, toEnvelopeDTO(env))
	}
	return out
}

func toTransactionDTO(tx core.Transaction) transactionDTO {
	return transactionDTO{
		ID:          tx.ID,
		Description: tx.Description,
		Amount:      money(tx.SignedAmount),
		Category:    tx.Category,
		Type:        tx.Type.String(),
		Period:      tx.Period.String(),
		Date:        tx.Date.String(),
		Source:      string(tx.Source),
	}
}

func toTransactionDTOs(txs []core.Transaction) []transactionDTO {
	out := make([]transactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx))
	}
	return out
}

func toIngestResultDTO(res engine.Result) ingestResultDTO {
	dto := ingestResultDTO{
		Transaction: toTransactionDTO(res.Transaction),
		EnvelopeID:  res.EnvelopeID,
		Matched:     res.Matched(),
	}
	if res.Warning != nil {
		dto.Warning = res.Warning.Error()
	}
	return dto
}

func toBatchDTO(rep services.BatchReport) batchDTO {
	dto := batchDTO{
		Accepted:  rep.Accepted,
		Unmatched: rep.Unmatched,
		Failed:    rep.Failed,
		Items:     make([]batchItemDTO, 0, len(rep.Items)),
	}
	for i, item := range rep.Items {
		if item.Err != nil {
			detail := errorDetail(item.Err)
			dto.Items = append(dto.Items, batchItemDTO{Index: i, Status: "rejected", Error: &detail})
			continue
		}
		res := toIngestResultDTO(item.Result)
		status := "matched"
		if !res.Matched {
			status = "unmatched"
		}
		dto.Items = append(dto.Items, batchItemDTO{Index: i, Status: status, Result: &res})
	}
	return dto
}

func errorDetail(err error) ErrorDetail {
	if body, ok := FromError(err).payload.(ErrorBody); ok {
		if body.Error.Code == "internal_error" {
			body.Error.Message = err.Error()
		}
		return body.Error
	}
	return ErrorDetail{Code: "internal_error", Message: err.Error()}
}

func toAlertDTOs(alerts []variance.Alert) []alertDTO {
	out := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		direction := "under"
		if a.Over() {
			direction = "over"
		}
		out = append(out, alertDTO{
			EnvelopeID: a.Envelope.ID,
			Category:   a.Envelope.Category,
			Type:       a.Envelope.Type.String(),
			Period:     a.Envelope.Period.String(),
			Estimated:  money(a.Envelope.Estimated),
			Realized:   money(a.Envelope.Realized),
			Tolerance:  a.Envelope.Tolerance.String(),
			Variance:   a.Pct.StringFixed(2),
			Direction:  direction,
		})
	}
	return out
}

func toSummaryDTO(s report.Summary) summaryDTO {
	return summaryDTO{
		Period:           s.Period.String(),
		TotalIncome:      money(s.TotalIncome),
		TotalExpense:     money(s.TotalExpense),
		CurrentBalance:   money(s.CurrentBalance),
		EstimatedIncome:  money(s.EstimatedIncome),
		EstimatedExpense: money(s.EstimatedExpense),
		EstimatedBalance: money(s.EstimatedBalance),
	}
}

func toTotalsDTO(t report.TransactionTotals) totalsDTO {
	return totalsDTO{
		Period:          t.Period.String(),
		Income:          money(t.Income),
		Expense:         money(t.Expense),
		Balance:         money(t.Balance),
		Count:           t.Count,
		UnmatchedCount:  t.UnmatchedCount,
		UnmatchedAmount: money(t.UnmatchedAmount),
	}
}

func toSeriesDTOs(rows []report.SeriesRow) []seriesRowDTO {
	out := make([]seriesRowDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, seriesRowDTO{
			Period:  r.Period.String(),
			Income:  money(r.Income),
			Expense: money(r.Expense),
			Balance: money(r.Balance),
		})
	}
	return out
}

func toSliceDTOs(slices []report.CategorySlice) []sliceDTO {
	out := make([]sliceDTO, 0, len(slices))
	for _, s := range slices {
		out = append(out, sliceDTO{Category: s.Category, Realized: money(s.Realized), Share: s.Share.StringFixed(2)})
	}
	return out
}

func toComparisonDTOs(rows []report.ComparisonRow) []comparisonRowDTO {
	out := make([]comparisonRowDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, comparisonRowDTO{
			EnvelopeID: r.EnvelopeID,
			Category:   r.Category,
			Type:       r.Type.String(),
			Estimated:  money(r.Estimated),
			Realized:   money(r.Realized),
			Tolerance:  r.Tolerance.String(),
			Variance:   pct(r.Variance),
			Alert:      r.Alert,
		})
	}
	return out
}

// sanitizeInput removes control characters except tab, newline and carriage return.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
