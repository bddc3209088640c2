package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"textvault/internal/api"
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
	var migrate bool

	flagSet := pflag.NewFlagSet("textvault-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.ConfigPathEnv+")")
	flagSet.BoolVar(&migrate, "migrate", true, "apply embedded migrations when the index is postgres")
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

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("配置加载完成，开始启动服务")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Migrate: migrate})
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.SweepInterval > 0 {
		go app.Service.RunSweeper(ctx, cfg.SweepInterval, service.SweepOptions{GracePeriod: cfg.SweepGracePeriod})
		logger.Info("periodic sweep enabled",
			zap.Duration("interval", cfg.SweepInterval),
			zap.Duration("grace_period", cfg.SweepGracePeriod),
		)
	}

	handler := api.NewFileHandler(app.Service, cfg.MaxUploadBytes, logger.Named("api"))
	router := api.NewRouter(cfg, handler, logger.Named("http"))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("服务监听端口", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("监听失败: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("优雅关闭失败", zap.Error(err))
	}

	logger.Info("服务已停止")
	return nil
}
