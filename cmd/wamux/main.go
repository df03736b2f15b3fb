// ABOUTME: Entry point for the wamux multi-session WhatsApp gateway.
// ABOUTME: Serves the HTTP control surface plus small health/sessions admin commands.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/wamux/wamux/internal/broadcast"
	"github.com/wamux/wamux/internal/config"
	"github.com/wamux/wamux/internal/gateway"
	"github.com/wamux/wamux/internal/ratelimit"
	"github.com/wamux/wamux/internal/record"
	"github.com/wamux/wamux/internal/session"
	"github.com/wamux/wamux/internal/wa"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: wamux <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the session gateway")
		fmt.Println("  health    Check gateway health")
		fmt.Println("  sessions  List registered sessions")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "sessions":
		err = runSessions(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := setupLogger(cfg.Logging)

	broadcaster := broadcast.New(logger)
	defer broadcaster.Close()

	limiter := ratelimit.New(cfg.RateLimit.QRLimit, cfg.RateLimit.QRWindow)
	defer limiter.Close()

	var recordClient *record.Client
	var syncer session.StatusSyncer
	if cfg.Record.BaseURL != "" {
		recordClient = record.NewClient(cfg.Record.BaseURL, cfg.Record.Timeout)
		s := record.NewSyncer(recordClient, cfg.Record.Timeout, logger)
		defer s.Close()
		syncer = s
	} else {
		logger.Warn("record.base_url not configured, status sync disabled")
	}

	manager := session.NewManager(session.ManagerParams{
		Factory: wa.NewFactory(cfg.Sessions.AuthDir, logger),
		Events:  broadcaster,
		Syncer:  syncer,
		AuthDir: cfg.Sessions.AuthDir,
		Logger:  logger,
	})
	defer manager.Close()

	if recordClient != nil {
		manager.Restore(ctx, recordClient)
	}

	gw := gateway.New(cfg, manager, broadcaster, limiter, logger)
	return gw.Run(ctx)
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:3000", "gateway base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		color.Red("✗ gateway unreachable: %v", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		color.Red("✗ gateway unhealthy (status %d)", resp.StatusCode)
		os.Exit(1)
	}

	color.Green("✓ gateway healthy")
	return nil
}

func runSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:3000", "gateway base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *baseURL+"/sessions", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing sessions: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding session list: %w", err)
	}

	if len(payload.Sessions) == 0 {
		fmt.Println("No sessions registered")
		return nil
	}

	for _, s := range payload.Sessions {
		fmt.Printf("%-30s %s\n", s.ID, colorPhase(s.Phase))
	}
	return nil
}

func colorPhase(phase string) string {
	switch phase {
	case "ready":
		return color.GreenString(phase)
	case "qr_pending":
		return color.YellowString(phase)
	case "disconnected", "auth_failed":
		return color.RedString(phase)
	default:
		return phase
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
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

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
