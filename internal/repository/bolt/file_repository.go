// Package bolt 提供基于 bbolt 的嵌入式元数据索引，适合单节点部署与测试。
//
// 数据布局：
//
//	files  : id   -> CBOR(FileRecord)
//	hashes : hash -> id
//
// Insert 在同一个写事务中检查 hashes 并写入两个 bucket，bbolt 的单写者
// 事务保证了唯一性检查与提交之间不存在窗口。
package bolt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"textvault/internal/repository"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	filesBucket  = []byte("files")
	hashesBucket = []byte("hashes")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("bolt: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("bolt: CBOR decoder initialization failed: " + err.Error())
	}
}

// FileRepository 实现 repository.FileRepository。
type FileRepository struct {
	db *bolt.DB
}

// Open 打开（必要时创建）path 处的 bbolt 数据库并初始化 bucket。
func Open(path string) (*FileRepository, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt index %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(filesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(hashesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}

	return &FileRepository{db: db}, nil
}

// Insert 写入新记录；hash 已存在时返回 repository.ErrDuplicateHash。
func (r *FileRepository) Insert(ctx context.Context, record *repository.FileRecord) (*repository.FileRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("file record is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := *record
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	encoded, err := encMode.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode file record: %w", err)
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		hashes := tx.Bucket(hashesBucket)
		if hashes.Get([]byte(stored.ContentHash)) != nil {
			return fmt.Errorf("insert %s: %w", stored.ContentHash, repository.ErrDuplicateHash)
		}
		files := tx.Bucket(filesBucket)
		if files.Get([]byte(stored.ID)) != nil {
			return fmt.Errorf("file id %s already exists", stored.ID)
		}
		if err := files.Put([]byte(stored.ID), encoded); err != nil {
			return err
		}
		return hashes.Put([]byte(stored.ContentHash), []byte(stored.ID))
	})
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

// FindByHash 通过内容哈希查询文件记录。
func (r *FileRepository) FindByHash(ctx context.Context, hash string) (*repository.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *repository.FileRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(hashesBucket).Get([]byte(hash))
		if id == nil {
			return repository.ErrNotFound
		}
		var err error
		rec, err = getRecord(tx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("hash %s points at missing record %s", hash, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FindByID 通过 id 查询文件记录。
func (r *FileRepository) FindByID(ctx context.Context, id string) (*repository.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *repository.FileRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Close 关闭底层数据库。
func (r *FileRepository) Close() error {
	return r.db.Close()
}

func getRecord(tx *bolt.Tx, id []byte) (*repository.FileRecord, error) {
	data := tx.Bucket(filesBucket).Get(id)
	if data == nil {
		return nil, repository.ErrNotFound
	}
	// data 仅在事务内有效，解码会复制出所需字段
	var rec repository.FileRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode file record %s: %w", id, err)
	}
	return &rec, nil
}
