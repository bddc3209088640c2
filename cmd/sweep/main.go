// Command sweep 删除没有元数据记录引用的孤儿对象。
//
// 与服务并行运行时，删除前会复查对象的修改时间，跳过被重新上传刷新过的对象；
// 宽限期应明显长于单次上传耗时。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"textvault/internal/bootstrap"
	"textvault/internal/config"
	"textvault/internal/logging"
	"textvault/internal/service"

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
	var dryRun bool
	var gracePeriod time.Duration

	flagSet := pflag.NewFlagSet("textvault-sweep", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.ConfigPathEnv+")")
	flagSet.BoolVar(&dryRun, "dry-run", false, "report orphans without deleting them")
	flagSet.DurationVar(&gracePeriod, "grace-period", 0, "skip blobs newer than this (default: SWEEP_GRACE_PERIOD)")
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
	if gracePeriod <= 0 {
		gracePeriod = cfg.SweepGracePeriod
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Service.Sweep(ctx, service.SweepOptions{GracePeriod: gracePeriod, DryRun: dryRun})
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	for _, key := range report.Orphans {
		logger.Info("orphan", zap.String("key", key), zap.Bool("deleted", !dryRun))
	}
	fmt.Printf("scanned=%d referenced=%d recent=%d unrecognized=%d orphans=%d deleted=%d\n",
		report.Scanned, report.Referenced, report.Recent, report.Unrecognized, len(report.Orphans), report.Deleted)
	return nil
}
