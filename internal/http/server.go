package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"budgetwatch/internal/cache"
	"budgetwatch/internal/core"
	"budgetwatch/internal/log"
	"budgetwatch/internal/middleware/ratelimit"
	"budgetwatch/internal/middleware/security"
	"budgetwatch/internal/middleware/trace"
	"budgetwatch/internal/report"
	"budgetwatch/internal/services"
	"budgetwatch/internal/variance"
)

// Server serves the budget API over HTTP.
type Server struct {
	http.Server
	svc    *services.BudgetService
	logger *log.Logger
	events *log.StructuredLogger
	now    func() time.Time

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	cacheManager    *cache.Manager
	summaryCache    *cache.LRUCache[report.Summary]
	alertsCache     *cache.LRUCache[[]variance.Alert]
	comparisonCache *cache.LRUCache[[]report.ComparisonRow]

	appMetrics   *appMetrics
	shutdownOnce sync.Once
}

type appMetrics struct {
	envelopesCreated     int64
	transactionsAccepted int64
	transactionsRejected int64
	cacheHits            int64
	cacheMisses          int64
	uptime               time.Time
}

// Options tunes the server. Zero values fall back to defaults.
type Options struct {
	Logger            *log.Logger
	CacheTTL          time.Duration
	RequestsPerMinute int
	Clock             func() time.Time
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc *services.BudgetService, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	logger := opts.Logger.WithComponent(log.ComponentHTTP)
	detector := security.NewDetector(logger.Slog())

	rlConfig := ratelimit.DefaultConfig()
	if opts.RequestsPerMinute > 0 {
		rlConfig.RequestsPerMinute = opts.RequestsPerMinute
	}

	s := &Server{
		svc:              svc,
		logger:           logger,
		events:           log.NewStructuredLogger(opts.Logger),
		now:              opts.Clock,
		rateLimiter:      ratelimit.NewLimiter(rlConfig),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(logger, detector.ExtractClientIP),
		cacheManager:     cache.NewManager(),
		summaryCache:     cache.NewLRUCache[report.Summary](100, ttl),
		alertsCache:      cache.NewLRUCache[[]variance.Alert](100, ttl),
		comparisonCache:  cache.NewLRUCache[[]report.ComparisonRow](100, ttl),
		appMetrics:       &appMetrics{uptime: time.Now()},
	}
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.Register(s.alertsCache)
	s.cacheManager.Register(s.comparisonCache)
	s.cacheManager.StartCleanup(ttl * 4)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /envelopes", s.handleCreateEnvelope)
	mux.HandleFunc("GET /envelopes", s.handleListEnvelopes)
	mux.HandleFunc("POST /envelopes/seed", s.handleSeedEnvelopes)
	mux.HandleFunc("POST /envelopes/{id}/rebuild", s.handleRebuildEnvelope)

	mux.HandleFunc("POST /transactions", s.handleIngestTransaction)
	mux.HandleFunc("POST /transactions/batch", s.handleIngestBatch)
	mux.HandleFunc("GET /transactions", s.handleListTransactions)

	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("GET /summary", s.handleSummary)
	mux.HandleFunc("GET /totals", s.handleTotals)
	mux.HandleFunc("GET /timeseries", s.handleTimeSeries)
	mux.HandleFunc("GET /breakdown", s.handleBreakdown)
	mux.HandleFunc("GET /comparison", s.handleComparison)

	limited := s.rateLimiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})

	var handler http.Handler = mux
	handler = limited(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string { return trace.GetRequestID(r.Context()) })(handler)
	handler = log.Middleware(logger)(handler)
	handler = detector.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops background routines and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// invalidatePeriod drops cached read models after a mutation of period.
func (s *Server) invalidatePeriod(ctx context.Context, period core.Period) {
	if n := s.cacheManager.InvalidatePeriod(period); n > 0 {
		s.logger.DebugContext(ctx, "Cache invalidated", log.FieldPeriod, period.String(), "entries", n)
	}
}

func (s *Server) cacheHit() {
	atomic.AddInt64(&s.appMetrics.cacheHits, 1)
}

func (s *Server) cacheMiss() {
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)
}
