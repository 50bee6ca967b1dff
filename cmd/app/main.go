package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"warehouse-miniapp/internal/config"
	"warehouse-miniapp/internal/domain/ports/adapter"
	"warehouse-miniapp/internal/infra/adapters/warehouse"
	"warehouse-miniapp/internal/infra/logging"
	"warehouse-miniapp/internal/infra/metrics"
	red "warehouse-miniapp/internal/infra/redis"
	"warehouse-miniapp/internal/infra/sched"
	"warehouse-miniapp/internal/infra/telegram"
	"warehouse-miniapp/internal/infra/web"
	"warehouse-miniapp/internal/infra/worker"
	"warehouse-miniapp/internal/invalidation"
	"warehouse-miniapp/internal/session"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var api adapter.WarehouseAPI
	if cfg.Backend.URL == "memory://" {
		api = warehouse.NewMemoryWarehouse()
		logger.Warn().Msg("warehouse backend: in-memory")
	} else {
		httpAPI, err := warehouse.NewHTTPClient(cfg.Backend.URL, warehouse.BuildHTTPClient(cfg.Backend.Timeout), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("warehouse client")
		}
		api = httpAPI
		logger.Info().Str("base", cfg.Backend.URL).Msg("warehouse backend: http")
	}
	api = warehouse.NewLimitedWarehouse(api, cfg.Backend.ConcurrentLimit)

	sessions := session.NewManager(session.Deps{
		API:       api,
		Logger:    logger,
		StaleTime: cfg.Session.StaleTime,
	})
	defer sessions.Close()

	var wg sync.WaitGroup
	spawn := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("worker", name).Msg("stopped with error")
			}
		}()
	}

	var limiter telegram.CommandLimiter
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient, cfg.Redis.KeyPrefix)

		pool := worker.NewPool(cfg.Bot.Workers, logger)
		pool.Start(ctx)
		defer pool.Stop()

		fanout := invalidation.NewFanout(sessions, pool, logger)
		sub := red.NewSubscriber(redisClient, cfg.Redis.Channel, logger)
		spawn("invalidation", func(ctx context.Context) error { return sub.Run(ctx, fanout.Handle) })
	} else {
		logger.Warn().Msg("redis.url empty; invalidation bus disabled")
	}

	if cfg.Bot.Launcher {
		launcher, err := telegram.NewLauncher(&cfg.Bot, limiter, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram")
		}
		spawn("launcher", launcher.StartPolling)
	}

	sweeper := sched.NewSessionSweeper(cfg.Session.SweepInterval, cfg.Session.IdleTTL, sessions, logger)
	spawn("sweeper", sweeper.Run)

	auth := web.NewAuthManager(cfg.Session.Secret, !cfg.Runtime.Dev, "", cfg.Session.TTL)
	srv := web.NewServer(sessions, auth, web.Options{
		BotToken:       cfg.Bot.Token,
		InitDataMaxAge: cfg.Session.InitDataMaxAge,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Dev:            cfg.Runtime.Dev,
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
}
