package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"textvault/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation 是 PostgreSQL 唯一约束冲突的 SQLSTATE。
const uniqueViolation = "23505"

// contentHashConstraint 对应迁移中 content_hash 列的唯一约束名。
const contentHashConstraint = "files_content_hash_key"

// NewFileRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

// FileRepository 实现 repository.FileRepository。
type FileRepository struct {
	db *sql.DB
}

var fileSelectColumns = []string{
	"id",
	"content_hash",
	"display_name",
	"size_bytes",
	"created_at",
}

var fileInsertColumns = []string{
	"id",
	"content_hash",
	"display_name",
	"size_bytes",
}

// Insert 插入文件记录并返回数据库生成字段（如时间戳）。
// content_hash 唯一约束冲突时返回 repository.ErrDuplicateHash。
func (r *FileRepository) Insert(ctx context.Context, record *repository.FileRecord) (*repository.FileRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("file record is nil")
	}

	placeholders := make([]string, len(fileInsertColumns))
	for i := range fileInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO files (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(fileInsertColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(fileSelectColumns, ","),
	)

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.ContentHash,
		record.DisplayName,
		record.SizeBytes,
	)

	rec, err := scanFileRecord(row)
	if err != nil {
		if isDuplicateHash(err) {
			return nil, fmt.Errorf("insert %s: %w", record.ContentHash, repository.ErrDuplicateHash)
		}
		return nil, fmt.Errorf("insert file record: %w", err)
	}
	return rec, nil
}

// FindByHash 通过内容哈希查询文件记录。
func (r *FileRepository) FindByHash(ctx context.Context, hash string) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE content_hash = $1`, strings.Join(fileSelectColumns, ","))
	return r.findOne(ctx, query, hash)
}

// FindByID 通过主键查询文件记录。
func (r *FileRepository) FindByID(ctx context.Context, id string) (*repository.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, strings.Join(fileSelectColumns, ","))
	return r.findOne(ctx, query, id)
}

func (r *FileRepository) findOne(ctx context.Context, query string, arg any) (*repository.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	file, err := scanFileRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(rs rowScanner) (*repository.FileRecord, error) {
	var rec repository.FileRecord
	if err := rs.Scan(
		&rec.ID,
		&rec.ContentHash,
		&rec.DisplayName,
		&rec.SizeBytes,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

func isDuplicateHash(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == contentHashConstraint
}
