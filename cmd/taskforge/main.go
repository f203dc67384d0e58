package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taskforge/internal/api"
	"taskforge/internal/config"
	"taskforge/internal/executor"
	"taskforge/internal/handlers/httpcall"
	"taskforge/internal/handlers/shell"
	"taskforge/internal/metrics"
	"taskforge/internal/recovery"
	"taskforge/internal/schedule"
	"taskforge/internal/scheduler"
	"taskforge/internal/state"
)

func main() {
	var configPath = flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Engine assembly, leaf-first.
	store := state.NewManager(log.Logger)
	collector := metrics.NewCollector(store)
	recov := recovery.NewEngine(&recovery.Config{
		BreakerThreshold: cfg.Engine.BreakerThreshold,
		ResetTimeout:     cfg.Engine.BreakerResetTimeout,
	}, log.Logger)
	registry := executor.NewRegistry()
	sched := scheduler.New(store, registry, recov, collector, scheduler.Config{
		MaxConcurrent:     cfg.Engine.MaxConcurrent,
		AvailableMemoryMB: cfg.Engine.AvailableMemoryMB,
		DefaultMaxRetries: cfg.Engine.DefaultMaxRetries,
	}, log.Logger)

	// Built-in executors; collaborators register more at runtime.
	sched.RegisterExecutor("shell", shell.Executor)
	sched.RegisterExecutor("http", httpcall.Executor)

	ctx, cancel := context.WithCancel(context.Background())
	cron := schedule.NewService(sched, store, cfg.Schedule.CheckInterval, cfg.Schedule.Retention, log.Logger)
	go cron.Start(ctx)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.NewServer(sched, cron)}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	cron.Stop()
	sched.Stop()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
