package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// pinger is implemented by stores that hold a connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).Round(time.Second).String(),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if p, ok := s.svc.Store().(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			checks["storage"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "ok (in-memory)"
	}

	checks["cache"] = map[string]any{
		"summary_entries":    s.summaryCache.Len(),
		"alerts_entries":     s.alertsCache.Len(),
		"comparison_entries": s.comparisonCache.Len(),
	}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
	}

	NewResponse().Status(httpStatus).JSON(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()

	counter := func(name, help string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n\n", name, value)
	}
	gauge := func(name, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %v\n\n", name, value)
	}

	w.WriteHeader(http.StatusOK)
	counter("http_requests_total", "Total number of HTTP requests", traceMetrics.TotalRequests)
	counter("http_server_errors_total", "Responses with a 5xx status", traceMetrics.ServerErrors)
	gauge("http_requests_in_flight", "Requests currently being served", traceMetrics.InFlight)
	gauge("http_response_time_avg_ms", "Average response time in milliseconds", traceMetrics.AverageResponseTime.Milliseconds())
	counter("envelopes_created_total", "Envelopes created through the API", atomic.LoadInt64(&s.appMetrics.envelopesCreated))
	counter("transactions_accepted_total", "Transactions stored through the API", atomic.LoadInt64(&s.appMetrics.transactionsAccepted))
	counter("transactions_rejected_total", "Transactions rejected through the API", atomic.LoadInt64(&s.appMetrics.transactionsRejected))
	counter("cache_hits_total", "Total cache hits", atomic.LoadInt64(&s.appMetrics.cacheHits))
	counter("cache_misses_total", "Total cache misses", atomic.LoadInt64(&s.appMetrics.cacheMisses))
	counter("rate_limit_hits_total", "Total rate limit hits", rateLimitMetrics.TotalHits)
	gauge("active_rate_limit_clients", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	counter("suspicious_requests_total", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	gauge("uptime_seconds", "Application uptime in seconds", int64(time.Since(s.appMetrics.uptime).Seconds()))
}
