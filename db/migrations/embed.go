// Package migrations 以 embed 方式携带 Postgres 元数据索引的建表脚本。
package migrations

import "embed"

// Files 包含按文件名排序执行的全部 up 迁移。
//
//go:embed *.up.sql
var Files embed.FS
