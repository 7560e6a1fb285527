package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"portraitstudio/internal/bootstrap"
	"portraitstudio/internal/http/handlers"
	httpapi "portraitstudio/internal/http/httpapi"
	"portraitstudio/internal/infra"
)

func main() {
	// Load .env when present
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if !cfg.WriteTimeoutCoversBatch() {
		logger.Warn().
			Dur("write_timeout", cfg.HTTPWriteTimeout).
			Dur("batch_budget", cfg.BatchWriteBudget()).
			Msg("HTTP_WRITE_TIMEOUT_SECONDS is shorter than a worst-case batch")
	}

	ctx := context.Background()
	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}
	defer svc.Close()

	app := handlers.NewApp(handlers.Deps{
		Batch:          svc.Orchestrator,
		Sessions:       svc.Metadata,
		URLs:           svc.Store,
		Fulfillment:    svc.Fulfillment,
		Catalog:        svc.Catalog,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         &logger,
	})

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       svc.StaticDir,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("storage", cfg.StorageBackend).
			Str("registry", cfg.RegistryBackend).
			Str("checkout", cfg.CheckoutMode).
			Bool("generator", svc.Synthesizer.HasGenerator()).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
