package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"portfolio-sentinel/internal/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "startup failed", err)
		os.Exit(1)
	}
	defer app.Close(ctx)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info(ctx, "shutdown signal received")
		cancel()
	}()

	// Warm the snapshot before the first client asks for it.
	go func() {
		if _, err := app.Engine.FetchAll(ctx); err != nil {
			logger.ErrorWithErr(ctx, "initial fetch failed", err)
		}
	}()

	if err := app.Server.Run(ctx); err != nil {
		logger.ErrorWithErr(ctx, "server stopped with error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "stopped")
}
