package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput 覆盖所有在触达存储之前就会被拒绝的输入。
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyInput      = fmt.Errorf("%w: file is empty", ErrInvalidInput)
	ErrUnsupportedType = fmt.Errorf("%w: only %s files are supported", ErrInvalidInput, AcceptedSuffix)
	ErrTooLarge        = fmt.Errorf("%w: file exceeds size limit", ErrInvalidInput)

	// ErrNotFound 表示 id 从未签发。
	ErrNotFound = errors.New("file not found")
	// ErrBlobMissing 表示元数据存在但内容缺失，属于存储完整性故障，对调用方仍表现为 ErrNotFound。
	ErrBlobMissing = fmt.Errorf("%w: content missing for existing record", ErrNotFound)

	// ErrStorage 表示索引或对象存储读写失败。
	ErrStorage = errors.New("storage failure")
)
