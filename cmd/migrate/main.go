package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"textvault/internal/config"
	"textvault/internal/database"
	"textvault/internal/logging"
	"textvault/internal/migrations"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flagSet := pflag.NewFlagSet("textvault-migrate", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.ConfigPathEnv+")")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.IndexDriver != "postgres" {
		return fmt.Errorf("migrations only apply to the postgres index, INDEX_DRIVER=%s", cfg.IndexDriver)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.PostgresDSN(), database.DefaultPoolOptions(), logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("migrations applied", zap.Strings("applied", applied), zap.Int("count", len(applied)))
	return nil
}
