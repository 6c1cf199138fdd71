package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dvloznov/dre-reports/internal/api/handlers"
	"github.com/dvloznov/dre-reports/internal/app"
	"github.com/dvloznov/dre-reports/internal/config"
	"github.com/dvloznov/dre-reports/internal/jobs/inmemory"
	"github.com/dvloznov/dre-reports/internal/logger"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config.yaml (optional)")
		port       = flag.Int("port", 0, "HTTP server port (overrides http.port)")
		migrate    = flag.Bool("migrate", true, "Apply pending schema migrations on startup")
	)
	flag.Parse()

	bootLog := logger.New()

	cfg, err := config.Load(*configFile)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if *migrate {
		applied, err := a.Store.Migrate(ctx, "api")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Int("applied", applied).Msg("Schema is up to date")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.Options{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
	}, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, app.JobHandler(a.Ingestor)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Job workers started")

	handler := handlers.NewRouter(handlers.RouterDeps{
		Store:      a.Store,
		Ingester:   a.Ingestor,
		Jobs:       jobStore,
		Publisher:  jobQueue,
		DefaultURL: cfg.Fetch.DefaultURL,
		Prefix:     cfg.Storage.Prefix,
		MaxUpload:  cfg.MaxUploadBytes(),
		JWTSecret:  cfg.Auth.JWTSecret,
		Log:        log,
	})
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty, API authentication is disabled")
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting jobs and wait for in-flight ones before the store closes
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
