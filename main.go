package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"kanban-tracker/api"
	"kanban-tracker/board"
	"kanban-tracker/config"
	"kanban-tracker/repository"
	"kanban-tracker/storage"
	"kanban-tracker/subscription"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.JSONLogs {
		log.SetFormatter(&log.JSONFormatter{})
		logger.SetFormatter(&log.JSONFormatter{})
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base, err := storage.New(cfg.StorageConnectionString)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := base.EnsureCollection(ctx, cfg.TasksTable); err != nil {
		log.Fatalf("ensure table %s: %v", cfg.TasksTable, err)
	}

	var rc *redis.Client
	if cfg.Redis != nil {
		rc = redis.NewClient(cfg.Redis)
		defer rc.Close()
	} else {
		logger.Info("no redis configured, running without cache and live updates")
	}
	origin := uuid.NewString()
	store := storage.NewCache(base, rc, cfg.CacheTTL).WithNotifications(cfg.UpdatesChannel, origin)

	repo := repository.New(store, cfg.TasksTable, logger)
	b := board.New(repo, logger, cfg.FailureHistory)
	if err := b.Load(ctx); err != nil {
		logger.WithError(err).Warn("initial board load failed")
	}
	if rc != nil {
		go subscription.SubscribeUpdates(ctx, logger, rc, cfg.UpdatesChannel, origin, b)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	api.Register(e, b, logger, prometheus.NewRegistry())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("server shutdown")
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("tracer shutdown")
		}
	}()

	logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "table": cfg.TasksTable, "origin": origin}).Info("kanban tracker starting")
	if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.Logger.Fatal(err)
	}
}
