// ABOUTME: Entry point for the archie-relay server
// ABOUTME: Bridges untrusted clients to the Clawdbot backend and fans out push events

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/vargolabs/archie-relay/internal/agent"
	"github.com/vargolabs/archie-relay/internal/auth"
	"github.com/vargolabs/archie-relay/internal/config"
	"github.com/vargolabs/archie-relay/internal/server"
	"github.com/vargolabs/archie-relay/internal/stream"
	"github.com/vargolabs/archie-relay/internal/telegram"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                    _     _
  __ _ _ __ ___ ___| |__ (_) ___      _ __ ___ | | __ _ _   _
 / _' | '__/ __/ _ \ '_ \| |/ _ \____| '__/ _ \| |/ _' | | | |
| (_| | | | (_|  __/ | | | |  __/____| | |  __/| | (_| | |_| |
 \__,_|_|  \___\___|_| |_|_|\___|    |_|  \___||_|\__,_|\__, |
                                                        |___/
`

// getConfigPath returns the optional config file path. An empty path
// means env-only configuration.
func getConfigPath() string {
	return os.Getenv("ARCHIE_CONFIG")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: archie-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the relay server")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
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
	fmt.Printf("HTTP:     %s\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:  %s\n", cfg.Backend.SendURL)
	green.Print("    ▶ ")
	fmt.Printf("Telegram: %v\n", cfg.Telegram.BotToken != "")
	fmt.Println()

	logger.Info("starting archie-relay",
		"addr", cfg.Server.Addr,
		"allowed_email", cfg.Auth.AllowedEmail,
		"telegram_configured", cfg.Telegram.BotToken != "",
	)

	keys := auth.NewRemoteKeySet(cfg.Auth.CertsURL, logger)
	verifier := auth.NewIDTokenVerifier(keys, cfg.Auth.Issuer, cfg.Auth.ClientID, cfg.Auth.AllowedEmail, logger)
	defer verifier.Close()

	registry := stream.NewRegistry(logger)
	backend := agent.New(cfg.Backend, logger)
	relay := telegram.New(cfg.Telegram, logger)

	srv := server.New(cfg, verifier, registry, backend, relay, logger)
	return srv.Run(ctx)
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
