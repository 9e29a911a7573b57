package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"field-control-backend/config"
	"field-control-backend/internal/api"
	"field-control-backend/internal/commands"
	"field-control-backend/internal/db"
	"field-control-backend/internal/events"
	"field-control-backend/internal/interlock"
	"field-control-backend/internal/logger"
	"field-control-backend/internal/metrics"
	"field-control-backend/internal/poller"
	"field-control-backend/internal/store"
	"field-control-backend/internal/telemetry"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging)
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	gormDB, err := db.Init(&cfg.Database, logger.WithComponent(log, "db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get sql.DB")
	}
	defer sqlDB.Close()

	metrics.Init(sqlDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	dispatcher := events.NewDispatcher(cfg.Events.Workers, cfg.Events.Buffer,
		logger.WithComponent(log, "events"),
		events.NewLogSink(logger.WithComponent(log, "status")),
	)
	dispatcher.Start(ctx)

	safety := interlock.New(cfg.Interlock, appStore, logger.WithComponent(log, "interlock"))
	commandSvc := commands.NewService(appStore, safety, dispatcher, logger.WithComponent(log, "commands"))

	pollerLog := logger.WithComponent(log, "poller")
	telemetryPoller := poller.New(
		cfg.Poller,
		poller.NewHTTPSource(cfg.Poller, pollerLog),
		appStore,
		telemetry.NewLog(cfg.Poller.LogPath),
		dispatcher,
		pollerLog,
	)
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		telemetryPoller.Run(ctx)
	}()

	handler := api.NewHandler(commandSvc, appStore, appStore, cfg.Server.CommandListSize, logger.WithComponent(log, "api"))
	router := api.NewRouter(handler, cfg.Server, logger.WithComponent(log, "http"))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server Shutdown")
	}

	cancel()
	<-pollerDone
	dispatcher.Wait()

	log.Info().Msg("server gracefully stopped")
}
