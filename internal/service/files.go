package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"textvault/internal/contenthash"
	"textvault/internal/repository"
	"textvault/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// AcceptedSuffix 是唯一接受的文件类型后缀。
	AcceptedSuffix = ".txt"
	// ContentType 是下载时返回的固定内容类型。
	ContentType = "text/plain; charset=utf-8"
)

// FileService 负责内容身份解析与去重：计算内容哈希、通过元数据索引判断
// 是否已存在，并按“先写对象、后提交元数据”的顺序落盘新内容。
type FileService struct {
	repo    repository.FileRepository
	store   storage.Storage
	logger  *zap.Logger
	hashAlg contenthash.Algorithm
	maxSize int64
	now     func() time.Time

	flights singleflight.Group
	locks   hashLocks
}

// Option 调整 FileService 的可选行为。
type Option func(*FileService)

// WithLogger 设置日志器，默认不输出。
func WithLogger(logger *zap.Logger) Option {
	return func(s *FileService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHashAlgorithm 设置内容哈希算法。切换算法后，旧记录不会与新上传去重。
func WithHashAlgorithm(alg contenthash.Algorithm) Option {
	return func(s *FileService) {
		s.hashAlg = alg
	}
}

// WithMaxUploadBytes 限制单个文件大小，<=0 表示不限制。
func WithMaxUploadBytes(n int64) Option {
	return func(s *FileService) {
		s.maxSize = n
	}
}

// WithClock 替换时间来源，供测试使用。
func WithClock(now func() time.Time) Option {
	return func(s *FileService) {
		s.now = now
	}
}

func NewFileService(repo repository.FileRepository, store storage.Storage, opts ...Option) *FileService {
	s := &FileService{
		repo:    repo,
		store:   store,
		logger:  zap.NewNop(),
		hashAlg: contenthash.DefaultAlgorithm,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitInput 描述一次上传。
type SubmitInput struct {
	DisplayName string
	Content     []byte
}

// SubmitResult 是上传结果。Deduplicated 为 true 时未发生任何写入。
type SubmitResult struct {
	Record       *repository.FileRecord
	Deduplicated bool
}

// File 是解析 id 得到的文件，调用方负责关闭 Content。
type File struct {
	Record  *repository.FileRecord
	Content io.ReadCloser
}

// BlobKey 返回内容哈希对应的对象 key。
func BlobKey(hash string) string {
	return hash + AcceptedSuffix
}

// HashFromKey 从对象 key 还原内容哈希，key 不是本服务写入的格式时返回 false。
func HashFromKey(key string) (string, bool) {
	hash, ok := strings.CutSuffix(key, AcceptedSuffix)
	if !ok || !contenthash.Valid(hash) {
		return "", false
	}
	return hash, true
}

// Submit 登记一份内容并返回其稳定 id。
//
// 相同内容（无论文件名）总是返回同一个 id，且对象存储只写一次。
// 同一进程内的并发相同内容由 singleflight 合并；跨进程竞争由索引的
// 唯一约束裁决，失败方读取胜者记录后按去重命中返回。
func (s *FileService) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if s == nil || s.repo == nil || s.store == nil {
		return nil, errors.New("file service not initialized")
	}
	if err := s.validateSubmit(input); err != nil {
		uploadsTotal.WithLabelValues(resultRejected).Inc()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := contenthash.Sum(s.hashAlg, input.Content)
	if err != nil {
		uploadsTotal.WithLabelValues(resultFailed).Inc()
		return nil, err
	}

	for {
		ran := false
		ch := s.flights.DoChan(hash, func() (any, error) {
			ran = true
			return s.submitLocked(ctx, hash, input)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}

		if res.Err != nil {
			// 领头请求被取消时，跟随者用自己的 ctx 重试
			if !ran && isContextErr(res.Err) && ctx.Err() == nil {
				continue
			}
			uploadsTotal.WithLabelValues(resultFailed).Inc()
			return nil, res.Err
		}

		shared := res.Val.(*SubmitResult)
		out := &SubmitResult{
			Record:       shared.Record,
			Deduplicated: shared.Deduplicated || !ran,
		}
		if out.Deduplicated {
			uploadsTotal.WithLabelValues(resultDeduplicated).Inc()
		} else {
			uploadsTotal.WithLabelValues(resultCreated).Inc()
		}
		return out, nil
	}
}

func (s *FileService) submitLocked(ctx context.Context, hash string, input SubmitInput) (*SubmitResult, error) {
	unlock := s.locks.lock(hash)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("content_hash", hash), zap.String("display_name", input.DisplayName))

	existing, err := s.repo.FindByHash(ctx, hash)
	if err == nil {
		logger.Info("duplicate content, returning existing record", zap.String("id", existing.ID))
		return &SubmitResult{Record: existing, Deduplicated: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: lookup by hash: %w", ErrStorage, err)
	}

	record := &repository.FileRecord{
		ID:          uuid.NewString(),
		ContentHash: hash,
		DisplayName: input.DisplayName,
		SizeBytes:   int64(len(input.Content)),
		CreatedAt:   s.now(),
	}

	// 先发布对象再提交元数据：任何时刻可见的记录都指向已完整落盘的内容
	loc, err := s.store.Write(ctx, BlobKey(hash), bytes.NewReader(input.Content))
	if err != nil {
		logger.Error("blob write failed", zap.Error(err))
		return nil, fmt.Errorf("%w: write blob: %w", ErrStorage, err)
	}
	blobWritesTotal.Inc()

	created, err := s.repo.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateHash) {
			winner, findErr := s.repo.FindByHash(ctx, hash)
			if findErr != nil {
				return nil, fmt.Errorf("%w: reread after duplicate hash: %w", ErrStorage, findErr)
			}
			logger.Info("lost insert race, returning winning record", zap.String("id", winner.ID))
			return &SubmitResult{Record: winner, Deduplicated: true}, nil
		}
		// 对象已写入但无记录引用，由孤儿清理回收
		logger.Warn("metadata commit failed, blob left for sweeping", zap.Error(err))
		return nil, fmt.Errorf("%w: commit record: %w", ErrStorage, err)
	}

	logger.Info("stored new file",
		zap.String("id", created.ID),
		zap.Int64("size_bytes", created.SizeBytes),
		zap.String("location", loc.Path),
	)
	return &SubmitResult{Record: created}, nil
}

// Stat 返回 id 对应的元数据，不读取内容。
func (s *FileService) Stat(ctx context.Context, id string) (*repository.FileRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("file service not initialized")
	}

	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	rec, err := s.repo.FindByID(ctx, parsed.String())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, parsed)
		}
		return nil, fmt.Errorf("%w: lookup by id: %w", ErrStorage, err)
	}
	return rec, nil
}

// Resolve 返回 id 对应的文件名与原始字节流。
func (s *FileService) Resolve(ctx context.Context, id string) (*File, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("file service not initialized")
	}

	rec, err := s.Stat(ctx, id)
	if err != nil {
		return nil, err
	}

	content, err := s.store.Read(ctx, BlobKey(rec.ContentHash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			integrityAnomaliesTotal.Inc()
			s.logger.Error("integrity anomaly: record references missing blob",
				zap.String("id", rec.ID),
				zap.String("content_hash", rec.ContentHash),
			)
			return nil, fmt.Errorf("%w: %s", ErrBlobMissing, rec.ID)
		}
		return nil, fmt.Errorf("%w: read blob: %w", ErrStorage, err)
	}

	return &File{Record: rec, Content: content}, nil
}

func (s *FileService) validateSubmit(input SubmitInput) error {
	switch {
	case len(input.Content) == 0:
		return ErrEmptyInput
	case !strings.HasSuffix(strings.ToLower(input.DisplayName), AcceptedSuffix):
		return ErrUnsupportedType
	case s.maxSize > 0 && int64(len(input.Content)) > s.maxSize:
		return ErrTooLarge
	default:
		return nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
