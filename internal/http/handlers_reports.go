package http

import (
	"context"
	"net/http"
	"strings"

	"budgetwatch/internal/cache"
	"budgetwatch/internal/core"
	"budgetwatch/internal/log"
	"budgetwatch/internal/report"
	"budgetwatch/internal/variance"
)

// cached returns the value under key or loads and stores it.
func cached[T any](s *Server, c cache.Cache[T], key cache.Key, load func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		s.cacheHit()
		return v, nil
	}
	s.cacheMiss()
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

func (s *Server) alerts(ctx context.Context, period core.Period) ([]variance.Alert, error) {
	return cached[[]variance.Alert](s, s.alertsCache, cache.Key{Period: period, View: "alerts"}, func() ([]variance.Alert, error) {
		return s.svc.GetAlerts(ctx, period, false)
	})
}

func (s *Server) summary(ctx context.Context, period core.Period) (report.Summary, error) {
	return cached[report.Summary](s, s.summaryCache, cache.Key{Period: period, View: "summary"}, func() (report.Summary, error) {
		return s.svc.GetSummary(ctx, period)
	})
}

func (s *Server) comparison(ctx context.Context, period core.Period) ([]report.ComparisonRow, error) {
	return cached[[]report.ComparisonRow](s, s.comparisonCache, cache.Key{Period: period, View: "comparison"}, func() ([]report.ComparisonRow, error) {
		return s.svc.GetComparison(ctx, period)
	})
}

// handleAlerts lists envelopes breaching tolerance. ?sort=severity orders
// them by descending |variance|; the default keeps envelope order.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	alerts, err := s.alerts(r.Context(), period)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("sort"), "severity") {
		alerts = variance.BySeverity(alerts)
	}
	NewResponse().JSON(map[string]any{
		"period": period.String(),
		"alerts": toAlertDTOs(alerts),
	}).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	sum, err := s.summary(r.Context(), period)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewResponse().JSON(toSummaryDTO(sum)).Write(w)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	totals, err := s.svc.GetTransactionTotals(r.Context(), period)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewResponse().JSON(toTotalsDTO(totals)).Write(w)
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	periods, err := ParsePeriodsParam(r.URL.Query())
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	rows, err := s.svc.GetTimeSeries(r.Context(), periods)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewResponse().JSON(map[string]any{"series": toSeriesDTOs(rows)}).Write(w)
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	typ := core.Expense
	if v := r.URL.Query().Get("type"); v != "" {
		typ, err = core.ParseEntryType(v)
		if err != nil {
			s.writeError(w, r, log.OpRead, &core.ValidationError{Field: "type", Err: err})
			return
		}
	}
	slices, err := s.svc.GetBreakdown(r.Context(), period, typ)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"period":     period.String(),
		"type":       typ.String(),
		"categories": toSliceDTOs(slices),
	}).Write(w)
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriodParam(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	rows, err := s.comparison(r.Context(), period)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"period": period.String(),
		"rows":   toComparisonDTOs(rows),
	}).Write(w)
}
