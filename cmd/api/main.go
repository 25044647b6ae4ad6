package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"safereport/internal/api"
	"safereport/internal/api/handlers"
	"safereport/internal/app"
	"safereport/internal/config"
	"safereport/internal/grpc/health"
	"safereport/internal/streaming"
	"safereport/pkg/logger"
)

const healthInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := newLogger(cfg)
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting SafeReport")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, app.Options{}, log)
	if err != nil {
		log.Fatal().Stack().Err(err).Msg("failed to initialize report pipeline")
	}
	defer a.Close(context.Background())

	go streaming.RunAuditLog(ctx, a.EventBus, log)

	checks := make(map[string]handlers.Checker, len(a.Backends))
	pingers := make(map[string]health.Pinger, len(a.Backends))
	for name, b := range a.Backends {
		checks[name] = b
		pingers[name] = b
	}

	limits := handlers.DefaultUploadLimits()
	limits.MaxFileBytes = cfg.Upload.MaxBytes
	if cfg.Server.MaxFormMemory > 0 {
		limits.MaxFormMemory = cfg.Server.MaxFormMemory
	}

	h := handlers.NewHandlers(handlers.Dependencies{
		Submitter: a.Submission,
		Reader:    a.Query,
		Checks:    checks,
		Limits:    limits,
		Version:   cfg.App.Version,
		Logger:    log,
	})

	router := api.NewRouter(*cfg, h, a.Limiter(), a.MediaHandler(), log)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC health server
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gRPC listener")
	}

	grpcServer := grpc.NewServer()
	monitor := health.NewMonitor(pingers, log)
	monitor.Register(grpcServer)
	go monitor.Run(ctx, healthInterval)

	go func() {
		log.Info().
			Str("addr", grpcListener.Addr().String()).
			Msg("starting gRPC health server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Stop background loops and mark the service as not serving
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

func newLogger(cfg *config.Config) *logger.Logger {
	if cfg.App.Debug {
		return logger.NewDevelopment()
	}
	format := cfg.Logger.Format
	if cfg.App.Environment == "production" {
		format = "json"
	}
	return logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     format,
		TimeFormat: cfg.Logger.TimeFormat,
		Service:    cfg.App.Name,
	})
}
