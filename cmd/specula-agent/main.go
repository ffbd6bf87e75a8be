// ABOUTME: Entry point for the specula agent.
// ABOUTME: Usage: specula-agent [-addr host:port] [-token SECRET] [-config specula.yaml]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Pedro-Porto/specula/internal/agent"
	"github.com/Pedro-Porto/specula/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a specula config file (optional)")
	addr := flag.String("addr", "", "controller address, overrides the config")
	token := flag.String("token", "", "shared auth token, overrides the config")
	diskPath := flag.String("disk", "", "path probed for disk telemetry, overrides the config")
	logLevel := flag.String("log-level", "", "debug, info, warn, or error")
	flag.Parse()

	if err := run(*configPath, *addr, *token, *diskPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, token, diskPath, logLevel string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.Agent.ControllerAddr = addr
	}
	if token != "" {
		cfg.Agent.Token = token
	}
	if diskPath != "" {
		cfg.Agent.DiskPath = diskPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cfg.Agent.Token == "" {
		return fmt.Errorf("no auth token: set -token or agent.token in the config")
	}

	logger := setupLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := agent.New(agent.Params{
		Addr:           cfg.Agent.ControllerAddr,
		Token:          cfg.Agent.Token,
		ConnectTimeout: cfg.Agent.ConnectTimeout,
		DiskPath:       cfg.Agent.DiskPath,
		Logger:         logger,
	})

	logger.Info("specula agent starting",
		"controller", cfg.Agent.ControllerAddr,
		"instance_id", a.InstanceID(),
	)

	err := a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
