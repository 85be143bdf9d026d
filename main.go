package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	appLogger "github.com/FACorreiaa/go-credentials-api/app/logger"
	"github.com/FACorreiaa/go-credentials-api/app/observability/metrics"
	"github.com/FACorreiaa/go-credentials-api/app/tracer"
	"github.com/FACorreiaa/go-credentials-api/config"
	"github.com/FACorreiaa/go-credentials-api/internal/container"
	"github.com/FACorreiaa/go-credentials-api/internal/router"
)

// @title                      Credentials API
// @version                    1.0
// @description                Account registration, login and user directory.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Type "Bearer" followed by a space and the access token.
func main() {
	// --- Initial Loading ---
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	// --- Logger Setup ---
	logger := appLogger.New(cfg.Mode, os.Stdout)
	slog.SetDefault(logger)

	// --- Application Context & Shutdown ---
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	telemetry, err := tracer.InitTracingAndMetrics(cfg.Observability.ServiceName)
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Observability.MetricsPort != "" {
		telemetry.ServeMetrics(cfg.Observability.MetricsPort, logger)
	}
	appMetrics, err := metrics.InitAppMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", slog.Any("error", err))
		os.Exit(1)
	}

	// --- Dependencies ---
	c, err := container.NewContainer(ctx, &cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to build application container", slog.Any("error", err))
		os.Exit(1)
	}
	defer c.Close()

	// --- HTTP Server Setup ---
	serverAddress := fmt.Sprintf(":%s", cfg.Server.HTTPPort)
	srv := newServer(serverAddress, &cfg, newHandler(&cfg, c, logger), logger)

	go func() {
		logger.Info("Starting HTTP server", slog.String("address", serverAddress), slog.String("mode", cfg.Mode))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()

	// --- Graceful Shutdown ---
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("HTTP server gracefully stopped")
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
	}

	logger.Info("Application shut down complete.")
}

const (
	defaultHandlerTimeout = 30 * time.Second
	// room for the 504 body after middleware.Timeout fires
	writeTimeoutSlack = 5 * time.Second
)

func handlerTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.Timeout <= 0 {
		return defaultHandlerTimeout
	}
	return cfg.Server.Timeout
}

// newServer keeps WriteTimeout past the handler timeout so slow requests get a 504, not a reset.
func newServer(addr string, cfg *config.Config, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: handlerTimeout(cfg) + writeTimeoutSlack,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
}

// newHandler wraps the API routes in the server-wide middleware chain.
func newHandler(cfg *config.Config, c *container.Container, logger *slog.Logger) http.Handler {
	timeout := handlerTimeout(cfg)

	mainRouter := router.SetupRouter(&router.Config{
		AccountHandler:         c.AccountHandler,
		AuthenticateMiddleware: c.Authenticate,
		RequireToken:           cfg.Security.RequireToken,
		AllowedOrigins:         cfg.Server.AllowedOrigins,
		LoginRateLimit:         cfg.Security.LoginRateLimit,
		LoginRateWindow:        cfg.Security.LoginRateWindow,
	})

	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appLogger.StructuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Timeout(timeout))
	r.Mount("/", mainRouter)
	return r
}
