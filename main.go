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
	"time"

	"github.com/lmittmann/tint"

	"go.aimuz.me/miaoshu/config"
	"go.aimuz.me/miaoshu/internal/app"
	"go.aimuz.me/miaoshu/internal/types"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (.json, .yaml)")
	logLevel := flag.String("log-level", "", "override log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("miaoshu %s (%s, %s)\n", version, commit, date)
		return
	}

	if err := run(*configPath, *logLevel); err != nil {
		var perm *types.PermissionError
		if errors.As(err, &perm) {
			slog.Error("missing OS permission, grant it in system settings and restart", "grant", perm.Grant, "error", err)
		} else {
			slog.Error("fatal", "error", err)
		}
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	// Errors before the config is read still go through tint.
	slog.SetDefault(newLogger(slog.LevelInfo))

	if configPath == "" {
		if path, err := config.Seed(); err != nil {
			slog.Warn("seed config", "error", err)
		} else if path != "" {
			slog.Info("wrote default config", "path", path)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger := newLogger(level)
	slog.SetDefault(logger)

	logger.Info("starting miaoshu", "version", version, "commit", commit, "date", date)

	svc := app.New(cfg, logger, version)
	defer svc.Shutdown()
	if err := svc.Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}
