package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"budgetwatch/internal/cli"
	"budgetwatch/internal/core"
	apphttp "budgetwatch/internal/http"
	"budgetwatch/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Stdout)
	cfg := cli.LoadAndValidateConfig(logger)

	svc, cleanup, err := cli.OpenService(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to open ledger", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	if cfg.SeedDefaults {
		period := core.PeriodOf(time.Now())
		if cfg.SeedPeriod != "" {
			period = core.Period(cfg.SeedPeriod)
		}
		created, skipped, err := svc.SeedDefaults(context.Background(), period, cfg.DefaultTolerance)
		if err != nil {
			logger.Error("Failed to seed default envelopes", "error", err, log.FieldPeriod, period)
		} else {
			logger.Info("Seeded default envelopes", log.FieldPeriod, period, "created", len(created), "skipped", skipped)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:   logger,
		CacheTTL: cfg.CacheTTL,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting budgetwatch server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		_ = cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	if err := cleanup(); err != nil {
		logger.Error("Failed to close ledger", "error", err)
	}
	logger.Info("Server stopped gracefully")
}
