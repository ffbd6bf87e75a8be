// ABOUTME: Entry point for the specula controller.
// ABOUTME: Serves the agent fabric and runs the interactive console.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/Pedro-Porto/specula/internal/cmds"
	"github.com/Pedro-Porto/specula/internal/config"
	"github.com/Pedro-Porto/specula/internal/console"
	"github.com/Pedro-Porto/specula/internal/controller"
	"github.com/Pedro-Porto/specula/internal/protocol"
	"github.com/Pedro-Porto/specula/internal/sched"
	"github.com/Pedro-Porto/specula/internal/stats"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                            _
 ___ _ __   ___  ___ _   _| | __ _
/ __| '_ \ / _ \/ __| | | | |/ _' |
\__ \ |_) |  __/ (__| |_| | | (_| |
|___/ .__/ \___|\___|\__,_|_|\__,_|
    |_|
`

// getConfigPath returns the path of the specula config file.
// Priority: SPECULA_CONFIG env var > ./specula.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SPECULA_CONFIG"); envPath != "" {
		return envPath
	}
	return "specula.yaml"
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: specula-controller <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the controller and its console")
		fmt.Println("  init    Write a starter config file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen: %s\n", cfg.Controller.ListenAddr)
	fmt.Println()

	statsRepo := stats.NewRepo()
	cmdRepo := cmds.NewRepo(cfg.Controller.TailLimitBytes)
	registry := controller.NewRegistry(controller.RegistryParams{
		Stats:  statsRepo,
		Cmds:   cmdRepo,
		Token:  cfg.Controller.Token,
		Logger: logger,
	})
	srv := controller.NewServer(controller.ServerParams{
		Registry: registry,
		Logger:   logger,
		MaxFrame: cfg.Controller.MaxFrameBytes,
		OnReap:   statsRepo.RemoveByConnID,
	})

	if err := srv.Start(cfg.Controller.ListenAddr); err != nil {
		return err
	}
	defer srv.Stop()

	scheduler := sched.New(logger)
	defer scheduler.Stop()
	scheduler.Every(cfg.Controller.PingInterval, func() {
		srv.Broadcast(protocol.CmdPing, nil)
	})
	scheduler.Every(cfg.Controller.StatusInterval, func() {
		srv.Broadcast(protocol.CmdStatus, nil)
	})
	scheduler.Every(cfg.Controller.GCInterval, func() {
		if n := cmdRepo.ClearDoneOlderThan(cfg.Controller.GCMaxAge); n > 0 {
			logger.Debug("cleared finished commands", "count", n)
		}
	})

	logger.Info("controller ready",
		"server_id", srv.ServerID(),
		"listen_addr", cfg.Controller.ListenAddr,
	)

	repl := console.New(console.Params{
		Server:   srv,
		Stats:    statsRepo,
		Cmds:     cmdRepo,
		In:       os.Stdin,
		Out:      os.Stdout,
		Logger:   logger,
		ExecWait: cfg.Controller.ExecWaitTimeout,
	})
	return repl.Run(ctx)
}

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(config.Starter), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
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
