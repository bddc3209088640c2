package repository

import (
	"context"
	"time"
)

// FileRecord 代表一份去重后内容的元数据，每个内容哈希对应一条。
// 记录创建后不可变。
type FileRecord struct {
	ID          string    `json:"id" cbor:"1,keyasint"`
	ContentHash string    `json:"content_hash" cbor:"2,keyasint"`
	DisplayName string    `json:"display_name" cbor:"3,keyasint"`
	SizeBytes   int64     `json:"size_bytes" cbor:"4,keyasint"`
	CreatedAt   time.Time `json:"created_at" cbor:"5,keyasint"`
}

// FileRepository 统一文件元数据持久层接口。
//
// 它是“内容是否已存在”的唯一事实来源：Insert 必须在提交时原子地
// 检查 content_hash 唯一性，冲突时返回 ErrDuplicateHash。
type FileRepository interface {
	Insert(ctx context.Context, record *FileRecord) (*FileRecord, error)
	FindByHash(ctx context.Context, hash string) (*FileRecord, error)
	FindByID(ctx context.Context, id string) (*FileRecord, error)
}
