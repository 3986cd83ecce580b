package storage

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidPath 无效的存储路径
	ErrInvalidPath = errors.New("storage: invalid path")

	// ErrClosed 存储已关闭
	ErrClosed = errors.New("storage: closed")
)

// ValidatePath 校验路径格式
//
// 路径由 "/" 分隔的非空段组成，不能以 "/" 开头或结尾。
func ValidatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return ErrInvalidPath
	}
	if strings.Contains(path, "//") {
		return ErrInvalidPath
	}
	return nil
}

// Split 拆分为父路径与子键，顶层路径的父路径为空串
func Split(path string) (parent, key string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// Join 拼接路径段
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}
