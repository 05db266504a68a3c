package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zenithfresh/thawplan/internal/bot"
	"github.com/zenithfresh/thawplan/internal/config"
	"github.com/zenithfresh/thawplan/internal/infra/db"
	httpx "github.com/zenithfresh/thawplan/internal/infra/http"
	"github.com/zenithfresh/thawplan/internal/infra/logger"
	"github.com/zenithfresh/thawplan/internal/infra/metrics"
	"github.com/zenithfresh/thawplan/internal/replenishment"
	"github.com/zenithfresh/thawplan/internal/storage"
	"github.com/zenithfresh/thawplan/internal/storage/memory"
	"github.com/zenithfresh/thawplan/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config/example.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env)
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	switch cfg.Storage.Driver {
	case "memory":
		store = memory.New()
		log.Warn("using in-memory storage, data is lost on restart")
	default:
		if err := db.Migrate(cfg.Postgres.DSN); err != nil {
			log.Error("migrations failed", "err", err)
			return
		}
		log.Info("migrations applied")

		pool, err := db.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Error("db connect failed", "err", err)
			return
		}
		defer pool.Close()
		log.Info("db connected")
		store = postgres.New(pool)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}
	svc := replenishment.New(store, log, replenishment.Options{
		Parallelism: cfg.Flow.Parallelism,
		Metrics:     m,
	})

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, httpx.NewHandler(log, svc, loc))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	if cfg.Scheduler.Enabled {
		sched, err := replenishment.NewScheduler(svc, cfg.Scheduler.At, loc, log)
		if err != nil {
			log.Error("scheduler config invalid", "err", err)
			return
		}
		go func() { _ = sched.Run(ctx) }()
	}

	if cfg.Telegram.Token != "" {
		api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Error("telegram init failed", "err", err)
			return
		}
		log.Info("telegram bot authorized", "username", api.Self.UserName)
		b := bot.New(api, log, svc, cfg.Telegram.AdminChatID, loc)
		go func() {
			if err := b.Run(ctx, 60); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bot stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
