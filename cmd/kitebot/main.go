package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"kitebot/internal/app"
	kbcfg "kitebot/internal/config"
	"kitebot/internal/logger"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "config file path (default $KITEBOT_CONFIG or configs/config.toml)")
		mode    = flag.String("mode", "trade", "run mode: auth | refresh | status | trade | serve")
	)
	flag.Parse()

	path := *cfgPath
	if path == "" {
		path = os.Getenv("KITEBOT_CONFIG")
	}
	if path == "" {
		path = "configs/config.toml"
	}

	cfg, err := kbcfg.Load(path)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("init log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ config loaded (env=%s, mode=%s)", cfg.App.Env, *mode)

	application, err := app.New(*cfg)
	if err != nil {
		log.Fatalf("init app failed: %v", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, application, *mode); err != nil && ctx.Err() == nil {
		log.Fatalf("run failed: %v", err)
	}
}

func run(ctx context.Context, a *app.App, mode string) error {
	switch mode {
	case "auth":
		return a.RunAuth(ctx)
	case "refresh":
		return a.RunRefresh(ctx)
	case "status":
		return a.RunStatus(ctx)
	case "trade":
		return a.RunTrade(ctx)
	case "serve":
		return a.RunServe(ctx)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
