package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// PoolOptions 控制连接池与启动时的连通性检查。
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	// PingAttempts 为启动时 ping 的最大次数，数据库与服务同时启动时需要等待
	PingAttempts int
	RetryDelay   time.Duration
}

// DefaultPoolOptions 返回默认连接池参数。
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    15,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
		PingAttempts:    5,
		RetryDelay:      time.Second,
	}
}

// Connect 建立到 PostgreSQL 的连接并执行基础健康检查。
func Connect(ctx context.Context, dsn string, opts PoolOptions, logger *zap.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingAttempts <= 0 {
		opts.PingAttempts = 1
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	for attempt := 1; ; attempt++ {
		err = ping(ctx, db, opts.PingTimeout)
		if err == nil {
			return db, nil
		}
		if attempt >= opts.PingAttempts || ctx.Err() != nil {
			break
		}

		logger.Warn("postgres not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", opts.RetryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
		case <-time.After(opts.RetryDelay):
		}
	}

	db.Close()
	return nil, fmt.Errorf("ping postgres: %w", err)
}

func ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		return db.PingContext(ctx)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return db.PingContext(pingCtx)
}
