package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"textvault/internal/repository"
	"textvault/internal/storage"

	"go.uber.org/zap"
)

// DefaultSweepGracePeriod 是孤儿清理默认忽略的最近写入窗口。
const DefaultSweepGracePeriod = time.Hour

// SweepOptions 控制孤儿清理。
type SweepOptions struct {
	// GracePeriod 内写入的对象不会被删除：上传流程先写对象后提交元数据，
	// 新对象在短时间内没有记录是正常状态。
	GracePeriod time.Duration
	DryRun      bool
}

// SweepReport 汇总一次清理。
type SweepReport struct {
	Scanned      int
	Referenced   int
	Recent       int
	Unrecognized int
	Orphans      []string
	Deleted      int
}

// Sweep 删除没有任何元数据记录引用的对象。
//
// 只有存储实现了 storage.Sweepable 时可用。对每个候选对象，检查与删除在该
// 哈希的锁内完成，与本进程内的 Submit 互斥；跨进程时依赖删除前对修改时间的复查。
func (s *FileService) Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	var report SweepReport

	sweeper, ok := s.store.(storage.Sweepable)
	if !ok {
		return report, fmt.Errorf("storage %T does not support sweeping", s.store)
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultSweepGracePeriod
	}

	objects, err := sweeper.List(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: list blobs: %w", ErrStorage, err)
	}

	cutoff := s.now().Add(-opts.GracePeriod)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		hash, ok := HashFromKey(obj.Key)
		if !ok {
			report.Unrecognized++
			s.logger.Warn("sweep skipped unrecognized object", zap.String("key", obj.Key))
			continue
		}
		if obj.ModTime.After(cutoff) {
			report.Recent++
			continue
		}

		outcome, err := s.sweepOne(ctx, sweeper, hash, obj.Key, cutoff, opts.DryRun)
		if err != nil {
			return report, err
		}
		switch outcome {
		case sweepReferenced:
			report.Referenced++
		case sweepRecent:
			report.Recent++
		case sweepOrphan:
			report.Orphans = append(report.Orphans, obj.Key)
			if !opts.DryRun {
				report.Deleted++
			}
		}
	}

	s.logger.Info("sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("referenced", report.Referenced),
		zap.Int("recent", report.Recent),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("deleted", report.Deleted),
		zap.Bool("dry_run", opts.DryRun),
	)
	return report, nil
}

type sweepOutcome int

const (
	sweepReferenced sweepOutcome = iota
	sweepRecent
	sweepGone
	sweepOrphan
)

// sweepOne 判定并清理单个候选对象。
//
// 哈希锁只在本进程内有效。其他进程可能正在重新上传同一内容：对象已被重写
// 但元数据尚未提交。因此索引未命中后要重新读取对象的修改时间，重写过的
// 对象会落回宽限期内而被跳过。
func (s *FileService) sweepOne(ctx context.Context, sweeper storage.Sweepable, hash, key string, cutoff time.Time, dryRun bool) (sweepOutcome, error) {
	unlock := s.locks.lock(hash)
	defer unlock()

	_, err := s.repo.FindByHash(ctx, hash)
	if err == nil {
		return sweepReferenced, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("%w: lookup by hash: %w", ErrStorage, err)
	}

	info, err := sweeper.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return sweepGone, nil
		}
		return 0, fmt.Errorf("%w: stat %s: %w", ErrStorage, key, err)
	}
	if info.ModTime.After(cutoff) {
		s.logger.Info("sweep skipped rewritten blob", zap.String("key", key), zap.Time("mod_time", info.ModTime))
		return sweepRecent, nil
	}
	if dryRun {
		return sweepOrphan, nil
	}

	if err := sweeper.Delete(ctx, key); err != nil {
		return 0, fmt.Errorf("%w: delete orphan %s: %w", ErrStorage, key, err)
	}
	sweptBlobsTotal.Inc()
	s.logger.Info("removed orphan blob", zap.String("key", key))
	return sweepOrphan, nil
}

// RunSweeper 按 interval 周期执行 Sweep，直到 ctx 结束。
func (s *FileService) RunSweeper(ctx context.Context, interval time.Duration, opts SweepOptions) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, opts); err != nil && !isContextErr(err) {
				s.logger.Error("periodic sweep failed", zap.Error(err))
			}
		}
	}
}
