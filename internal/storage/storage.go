package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound 表示 key 对应的对象从未写入。
var ErrNotFound = errors.New("storage: object not found")

// Writer 定义对象存储写接口，支持流式写入。
// 实现必须保证读者永远看不到写入中途的对象；同一 key 重复写入相同内容是幂等的。
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader) (Location, error)
}

// Reader 定义对象存储读接口，支持流式读取。key 不存在时返回 ErrNotFound。
type Reader interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
}

// Lister 枚举已发布的对象，供孤儿清理使用。
// Stat 返回单个对象的当前信息，key 不存在时返回 ErrNotFound。
type Lister interface {
	List(ctx context.Context) ([]ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// Deleter 删除对象；删除不存在的 key 不是错误。
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Storage 组合了读写能力的完整存储接口。
type Storage interface {
	Writer
	Reader
}

// Sweepable 是支持枚举与删除的存储。
type Sweepable interface {
	Lister
	Deleter
}

// Location 描述已经写入对象的位置：本地为文件路径，S3 为带前缀的对象 key。
type Location struct {
	Path string
}

// ObjectInfo 描述一个已发布对象。
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}
