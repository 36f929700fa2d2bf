// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// cowork-bridge is the desktop shell's backend process. The UI runs it
// as a child and speaks newline-delimited JSON over its stdio:
// requests arrive on stdin, replies and worker events leave on stdout,
// and diagnostics go to stderr.
//
// The bridge owns everything the UI must not touch directly: the
// worker process lifecycle, the encrypted API key store, and the task
// history database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/cowork-app/cowork/lib/bridge"
	"github.com/cowork-app/cowork/lib/config"
	"github.com/cowork-app/cowork/lib/keychain"
	"github.com/cowork-app/cowork/lib/process"
	"github.com/cowork-app/cowork/lib/router"
	"github.com/cowork-app/cowork/lib/taskstore"
	"github.com/cowork-app/cowork/lib/version"
	"github.com/cowork-app/cowork/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath string
		dataDir    string
		workerDir  string
		envFile    string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("cowork-bridge", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to cowork.yaml (default: $COWORK_CONFIG, then built-in defaults)")
	flagSet.StringVar(&dataDir, "data-dir", "", "override the data directory")
	flagSet.StringVar(&workerDir, "worker-dir", "", "override the worker binary directory")
	flagSet.StringVar(&envFile, "env-file", "", "load environment variables from this file before starting")
	flagSet.StringVar(&logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("cowork-bridge")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Paths.Data = dataDir
		cfg.Paths.Keychain = ""
		cfg.Paths.TaskDB = ""
	}
	if workerDir != "" {
		cfg.Worker.BinaryDir = workerDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	fillPaths(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.Logging.Level),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys, err := keychain.Open(cfg.Paths.Keychain, logger)
	if err != nil {
		return err
	}
	defer keys.Close()

	store, err := taskstore.Open(taskstore.Config{
		Path:   cfg.Paths.TaskDB,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	emitter := newEmitter(os.Stdout)
	eventRouter := router.New(emitter, logger)

	supervisor, err := worker.New(worker.Config{
		BinaryDir:  cfg.Worker.BinaryDir,
		Candidates: cfg.Worker.Candidates,
		Handler:    eventRouter,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer supervisor.Stop()

	taskBridge, err := bridge.New(bridge.Config{
		Supervisor:  supervisor,
		Credentials: keys,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	server := &server{
		bridge:   taskBridge,
		store:    store,
		keychain: keys,
		emitter:  emitter,
		logger:   logger,
	}

	logger.Info("cowork-bridge running",
		"data", cfg.Paths.Data,
		"version", version.Info(),
	)
	return server.serve(ctx, os.Stdin)
}

// loadConfig resolves configuration with flag > environment > default
// precedence.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	if os.Getenv("COWORK_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// fillPaths re-derives storage paths after flag overrides.
func fillPaths(cfg *config.Config) {
	if cfg.Paths.Keychain == "" {
		cfg.Paths.Keychain = filepath.Join(cfg.Paths.Data, "keychain")
	}
	if cfg.Paths.TaskDB == "" {
		cfg.Paths.TaskDB = filepath.Join(cfg.Paths.Data, "tasks.db")
	}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
