package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"triage_server/adapter/out/messaging"
	"triage_server/config"
	"triage_server/core/port/out"
	"triage_server/internal/bootstrap"
	"triage_server/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
	startupTimeout  = 30 * time.Second
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	mode := flag.String("mode", "", "Run mode: api, worker, all (overrides MODE)")
	flag.Parse()
	if *mode != "" {
		os.Setenv("MODE", *mode)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.IsDevelopment() && cfg.LogLevel == "" {
		level = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   level,
		Service: "triage-" + cfg.Mode,
		Console: cfg.LogConsole,
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	deps, cleanup, err := bootstrap.NewDependencies(startCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch cfg.Mode {
	case config.ModeAPI:
		runAPI(cfg, deps, messaging.NewStreamLauncher(deps.Redis, cfg.StreamMaxLen))
	case config.ModeWorker:
		runWorker(deps)
	case config.ModeAll:
		w := startWorker(deps, false)
		defer stopWorker(w)
		runAPI(cfg, deps, w.Pool())
	}
}

func runAPI(cfg *config.Config, deps *bootstrap.Dependencies, launcher out.BatchLauncher) {
	app, stop, err := bootstrap.NewAPI(deps, launcher)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}
	defer stop()

	// Graceful shutdown with timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}

func runWorker(deps *bootstrap.Dependencies) {
	w := startWorker(deps, true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	stopWorker(w)
}

func startWorker(deps *bootstrap.Dependencies, consume bool) *bootstrap.Worker {
	w, err := bootstrap.NewWorker(deps, consume)
	if err != nil {
		logger.Fatal("Failed to initialize worker: %v", err)
	}
	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start worker: %v", err)
	}
	logger.Info("Worker started")
	return w
}

func stopWorker(w *bootstrap.Worker) {
	logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

	// the pool has its own close timeout; this is the outer bound
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker shut down gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Worker shutdown timed out, forcing exit")
		os.Exit(1)
	}
}
