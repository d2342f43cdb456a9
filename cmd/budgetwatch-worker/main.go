package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetwatch/internal/amqp"
	"budgetwatch/internal/backend"
	"budgetwatch/internal/cli"
	"budgetwatch/internal/log"
	"budgetwatch/internal/sheets"
	"budgetwatch/internal/sheets/google"
	"budgetwatch/internal/sheets/memory"
	"budgetwatch/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Stdout)
	logger.Info("Starting budgetwatch-worker")
	cfg := cli.LoadAndValidateConfig(logger)

	if cfg.DataBackend != string(backend.SQLiteBackend) {
		logger.Warn("Worker reads its own in-process ledger; set DATA_BACKEND=sqlite to mirror the server's data",
			"backend", cfg.DataBackend)
	}

	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	// The worker only reads the ledger and consumes events; it never publishes.
	bc.AMQPURL = ""
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog()).CreateBackend(context.Background(), bc)
	if err != nil {
		logger.Error("Failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer res.Cleanup()

	var mirror sheets.Mirror
	if cfg.MirrorEnabled() {
		client, err := google.New(context.Background(), google.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetPrefix:     cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		mirror = memory.New()
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, mirroring in memory")
	}

	mw := worker.NewMirrorWorker(res.Store, mirror, logger.WithComponent(log.ComponentWorker).Slog())

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mw.Run(gctx, cfg.MirrorInterval)
	})

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		g.Go(func() error {
			err := client.ConsumeEvents(gctx, mw.HandleEvent)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Skipping AMQP consumption - no AMQP_URL provided, relying on periodic refresh")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
