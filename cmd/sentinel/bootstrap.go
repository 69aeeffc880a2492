package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"portfolio-sentinel/internal/broker"
	"portfolio-sentinel/internal/earnings"
	"portfolio-sentinel/internal/engine"
	"portfolio-sentinel/internal/logger"
	"portfolio-sentinel/internal/market"
	"portfolio-sentinel/internal/scheduler"
	"portfolio-sentinel/internal/server"
	"portfolio-sentinel/internal/session"
	"portfolio-sentinel/internal/store"
)

// app holds the wired components for the lifetime of the process.
type app struct {
	Engine    *engine.Engine
	Server    *server.Server
	scheduler *scheduler.Scheduler
	sessions  session.Store
}

func bootstrap(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	if err := logger.Init(logger.FromEnv()); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfgPath := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := store.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "running in DRY_RUN mode with static brokerage data")
	}

	sessions, err := session.Open(cfg.Broker.SessionDB)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	token, err := resolveToken(ctx, cfg, sessions)
	if err != nil {
		sessions.Close()
		return nil, err
	}

	brk := broker.New(broker.Params{
		Mode:        cfg.Mode,
		APIKey:      cfg.Broker.APIKey,
		AccessToken: token,
	})
	yahoo := market.NewYahoo(cfg.MarketData.BaseURL, cfg.MarketData.RequestTimeout)
	scraper := earnings.NewScraper(cfg.MarketData.RequestTimeout)

	caches := engine.NewCaches()
	caches.StartSweepers(ctx, cfg.Fetch.SweepInterval)

	eng := engine.New(cfg, brk, yahoo, scraper, caches)
	srv := server.New(cfg, eng)

	sched := scheduler.New(eng)
	if err := sched.Register(cfg.Schedule.RefreshCron); err != nil {
		sessions.Close()
		return nil, fmt.Errorf("register schedule: %w", err)
	}
	sched.Start()

	return &app{Engine: eng, Server: srv, scheduler: sched, sessions: sessions}, nil
}

// resolveToken prefers a fresh credential from the environment/config and
// persists it; otherwise it falls back to the stored session. DRY_RUN needs
// no token at all.
func resolveToken(ctx context.Context, cfg *store.Config, sessions session.Store) (string, error) {
	if cfg.Mode == "DRY_RUN" {
		return "", nil
	}
	if cfg.Broker.AccessToken != "" {
		if err := sessions.Save(cfg.Broker.AccessToken); err != nil {
			logger.Warn(ctx, "could not persist session token", "error", err)
		}
		return cfg.Broker.AccessToken, nil
	}

	token, savedAt, err := sessions.Load()
	if errors.Is(err, session.ErrNoSession) {
		return "", errors.New("LIVE mode needs KITE_ACCESS_TOKEN or a stored session")
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	logger.Info(ctx, "using stored session token", "saved_at", savedAt)
	return token, nil
}

func (a *app) Close(ctx context.Context) {
	a.scheduler.Stop()
	if err := a.sessions.Close(); err != nil {
		logger.Warn(ctx, "session store close failed", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Warn(ctx, "tracer shutdown failed", "error", err)
	}
}
