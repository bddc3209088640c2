package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"textvault/internal/storage"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionNone 按原样存储字节。
	CompressionNone = "none"
	// CompressionZstd 以 zstd 压缩落盘，读取时透明解压。
	CompressionZstd = "zstd"

	zstdSuffix = ".zst"
	tempSuffix = ".tmp"
)

// Options 配置本地存储行为。
type Options struct {
	Compression string
	FileMode    os.FileMode
	DirMode     os.FileMode
}

// Store 将对象写入本地文件系统。
//
// 对象路径为 <root>/<key 前两位>/<key>，写入先落到同目录的唯一临时文件，
// fsync 后原子 rename 到最终路径，读者永远看不到半截文件。
type Store struct {
	root string
	opts Options
}

// New 创建本地存储，root 不存在时自动创建。
func New(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is empty")
	}
	switch opts.Compression {
	case "":
		opts.Compression = CompressionNone
	case CompressionNone, CompressionZstd:
	default:
		return nil, fmt.Errorf("unsupported compression %q", opts.Compression)
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0o644
	}
	if opts.DirMode == 0 {
		opts.DirMode = 0o755
	}

	root = filepath.Clean(root)
	if err := os.MkdirAll(root, opts.DirMode); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	return &Store{root: root, opts: opts}, nil
}

// Write 将 r 的全部内容写入 key。ctx 取消时临时文件会被删除，最终路径不受影响。
func (s *Store) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	if s == nil {
		return storage.Location{}, fmt.Errorf("local storage uninitialized")
	}
	if err := validateKey(key); err != nil {
		return storage.Location{}, err
	}
	if err := ctx.Err(); err != nil {
		return storage.Location{}, err
	}

	targetPath := s.objectPath(key)
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, s.opts.DirMode); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+key+".*"+tempSuffix)
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := file.Name()
	published := false
	defer func() {
		if !published {
			file.Close()
			os.Remove(tempPath)
		}
	}()

	if err := s.copyTo(file, &ctxReader{ctx: ctx, r: r}); err != nil {
		return storage.Location{}, fmt.Errorf("write file: %w", err)
	}
	if err := file.Chmod(s.opts.FileMode); err != nil {
		return storage.Location{}, fmt.Errorf("chmod file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return storage.Location{}, fmt.Errorf("sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return storage.Location{}, fmt.Errorf("close file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return storage.Location{}, err
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return storage.Location{}, fmt.Errorf("rename temp file: %w", err)
	}
	published = true
	syncDir(dir)

	return storage.Location{Path: targetPath}, nil
}

// Read 打开并返回指定 key 对应的文件内容。
func (s *Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil {
		return nil, fmt.Errorf("local storage uninitialized")
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 压缩配置可能在运行期间切换过，两种形式都要尝试
	basePath := filepath.Join(s.root, shard(key), key)
	if file, err := os.Open(basePath + zstdSuffix); err == nil {
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return &zstdReadCloser{dec: dec, file: file}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open file: %w", err)
	}

	file, err := os.Open(basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// List 遍历存储根目录，返回全部已发布对象，临时文件会被跳过。
func (s *Store) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, tempSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		out = append(out, storage.ObjectInfo{
			Key:     strings.TrimSuffix(name, zstdSuffix),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	return out, nil
}

// Stat 返回 key 当前的对象信息。压缩与未压缩两种形式并存时取较新的一个。
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if s == nil {
		return storage.ObjectInfo{}, fmt.Errorf("local storage uninitialized")
	}
	if err := validateKey(key); err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return storage.ObjectInfo{}, err
	}

	var (
		out   storage.ObjectInfo
		found bool
	)
	basePath := filepath.Join(s.root, shard(key), key)
	for _, p := range []string{basePath, basePath + zstdSuffix} {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return storage.ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
		}
		if !found || info.ModTime().After(out.ModTime) {
			out = storage.ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}
			found = true
		}
	}
	if !found {
		return storage.ObjectInfo{}, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return out, nil
}

// Delete 删除 key 的所有落盘形式。
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	basePath := filepath.Join(s.root, shard(key), key)
	for _, p := range []string{basePath, basePath + zstdSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) objectPath(key string) string {
	p := filepath.Join(s.root, shard(key), key)
	if s.opts.Compression == CompressionZstd {
		p += zstdSuffix
	}
	return p
}

func (s *Store) copyTo(file *os.File, r io.Reader) error {
	if s.opts.Compression != CompressionZstd {
		_, err := io.Copy(file, r)
		return err
	}

	enc, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// shard 取 key 前两位作为子目录，避免单目录文件过多。
func shard(key string) string {
	return key[:2]
}

func validateKey(key string) error {
	switch {
	case len(key) < 3:
		return fmt.Errorf("invalid key %q: too short", key)
	case strings.HasPrefix(key, "."):
		return fmt.Errorf("invalid key %q: leading dot", key)
	case strings.ContainsAny(key, `/\`+"\x00"):
		return fmt.Errorf("invalid key %q: path separators not allowed", key)
	case strings.HasSuffix(key, tempSuffix), strings.HasSuffix(key, zstdSuffix):
		return fmt.Errorf("invalid key %q: reserved suffix", key)
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type zstdReadCloser struct {
	dec  *zstd.Decoder
	file *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.file.Close()
}
