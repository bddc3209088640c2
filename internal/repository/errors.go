package repository

import "errors"

// ErrNotFound 表示目标记录不存在。
var ErrNotFound = errors.New("repository: record not found")

// ErrDuplicateHash 表示 content_hash 已被其他记录占用（唯一约束冲突）。
var ErrDuplicateHash = errors.New("repository: duplicate content hash")
