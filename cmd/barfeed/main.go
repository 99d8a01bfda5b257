package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"barfeed/internal/app"
	brcfg "barfeed/internal/config"
	"barfeed/internal/feed"
	"barfeed/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfgPath := os.Getenv("BARFEED_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := brcfg.Load(cfgPath)
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Printf("open log file: %v", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}
	brcfg.ApplyLogSettings(cfg)
	logger.Infof("✓ config loaded (env=%s, path=%s)", cfg.App.Env, cfgPath)

	if err := brcfg.Watch(cfgPath, brcfg.ApplyLogSettings); err != nil {
		logger.Warnf("config hot reload disabled: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg)
	if err != nil {
		logger.Errorf("build app: %v", err)
		return 1
	}
	if err := application.Run(ctx); err != nil {
		var lead *feed.LeadTimeError
		switch {
		case errors.As(err, &lead):
			logger.Errorf("start refused after one retry: %v", err)
		case errors.Is(err, feed.ErrConsumerLatencyExceeded):
			logger.Errorf("fatal: %v", err)
		default:
			logger.Errorf("run: %v", err)
		}
		return 1
	}
	logger.Infof("feed stopped")
	return 0
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
