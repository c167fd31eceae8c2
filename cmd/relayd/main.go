package main

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/verzia/realtime-relay/internal/auth"
	"github.com/verzia/realtime-relay/internal/config"
	"github.com/verzia/realtime-relay/internal/handlers"
	"github.com/verzia/realtime-relay/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("relay config loaded",
		"listen_addr", cfg.ListenAddr,
		"allowed_origins", cfg.AllowedOrigins,
		"push_enabled", cfg.PushSecret != "",
		"send_buffer", cfg.SendBuffer,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	hub := relay.NewHub(cfg.SendBuffer)
	verifier := auth.NewVerifier(cfg.TokenSecret)
	gateway := handlers.NewGateway(hub, verifier, cfg)
	internal := handlers.NewInternal(hub, cfg.PushSecret)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", handlers.Healthz)
	app.Use("/ws", gateway.Upgrade)
	app.Get("/ws", websocket.New(gateway.Handle))
	app.Post("/internal/push", internal.Push)
	app.Get("/internal/stats", internal.Stats)

	go func() {
		slog.Info("relay listening", "addr", cfg.ListenAddr)
		if err := app.Listen(cfg.ListenAddr); err != nil {
			slog.Error("relay server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("relay shutdown failed", "error", err)
	}
	hub.Close()
}

func setupLogger(level, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
