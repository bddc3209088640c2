// Package bootstrap 根据配置装配元数据索引、对象存储与 FileService，
// 供 cmd 下的各个程序共用。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"textvault/internal/config"
	"textvault/internal/contenthash"
	"textvault/internal/database"
	"textvault/internal/migrations"
	"textvault/internal/repository"
	boltrepo "textvault/internal/repository/bolt"
	pgrepo "textvault/internal/repository/postgres"
	"textvault/internal/service"
	"textvault/internal/storage"
	"textvault/internal/storage/local"
	"textvault/internal/storage/s3"

	"go.uber.org/zap"
)

// Options 控制装配过程。
type Options struct {
	// Migrate 为 true 时在连接 Postgres 后执行内嵌迁移
	Migrate bool
}

// App 持有装配好的组件，Close 释放索引连接。
type App struct {
	Config  *config.Config
	Index   repository.FileRepository
	Store   storage.Storage
	Service *service.FileService

	closers []func() error
}

// New 按配置打开索引与存储并创建 FileService。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &App{Config: cfg}

	index, err := app.openIndex(ctx, cfg, logger, opts)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Index = index

	store, err := OpenStorage(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	alg, err := contenthash.ParseAlgorithm(cfg.HashAlgorithm)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Service = service.NewFileService(index, store,
		service.WithLogger(logger.Named("service")),
		service.WithHashAlgorithm(alg),
		service.WithMaxUploadBytes(cfg.MaxUploadBytes),
	)

	logger.Info("components ready",
		zap.String("index_driver", cfg.IndexDriver),
		zap.String("storage_driver", cfg.StorageDriver),
		zap.String("hash_algorithm", string(alg)),
	)
	return app, nil
}

func (a *App) openIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (repository.FileRepository, error) {
	switch cfg.IndexDriver {
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
		repo, err := boltrepo.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt index: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil

	case "postgres", "":
		db, err := database.Connect(ctx, cfg.PostgresDSN(), database.DefaultPoolOptions(), logger.Named("database"))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		if opts.Migrate {
			if _, err := migrations.Apply(ctx, db, logger.Named("migrations")); err != nil {
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		return pgrepo.NewFileRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported index driver %q", cfg.IndexDriver)
	}
}

// OpenStorage 按 STORAGE_DRIVER 创建对象存储。
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "s3":
		store, err := s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 storage: %w", err)
		}
		return store, nil

	case "local", "":
		store, err := local.New(cfg.StorageDir, local.Options{Compression: cfg.StorageCompression})
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// Close 按打开的逆序释放资源。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
