package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/orion-keypad/internal/core"
)

const defaultConfigPath = "config/keypad.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (.yaml or .toml)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting keypad service",
		"config", *configPath,
		"debug", *debug,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// SIGUSR1 suspends scanning, SIGUSR2 resumes it
	powerChan := make(chan os.Signal, 1)
	signal.Notify(powerChan, syscall.SIGUSR1, syscall.SIGUSR2)

	svc, err := core.NewServiceFromFile(*configPath)
	if err != nil {
		slog.Error("failed to create keypad service", "error", err)
		os.Exit(1)
	}

	if cfg := svc.Config(); cfg.Health.Enabled {
		if err := svc.StartHealthServer(cfg.Health.Port); err != nil {
			slog.Error("failed to start health check server", "error", err)
			os.Exit(1)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // Always send, even if nil
	}()

	var runErr error
wait:
	for {
		select {
		case sig := <-powerChan:
			var err error
			if sig == syscall.SIGUSR1 {
				err = svc.Suspend()
			} else {
				err = svc.Resume()
			}
			if err != nil {
				slog.Error("power transition failed", "signal", sig, "error", err)
			}

		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
			break wait

		case runErr = <-errChan:
			if runErr != nil {
				slog.Error("service error", "error", runErr)
			} else {
				slog.Info("service stopped (via MQTT shutdown command)")
			}
			break wait
		}
	}

	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}

	slog.Info("keypad service stopped successfully")
}
