package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"budgetwatch/internal/cli"
)

func main() {
	cli.LoadEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		cli.ReportError(os.Stderr, err)
		os.Exit(1)
	}
}
