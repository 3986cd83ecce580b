package identity

import "errors"

var (
	// ErrInvalidKey 无效的密钥
	ErrInvalidKey = errors.New("identity: invalid key")

	// ErrInvalidID 无效的身份 ID
	ErrInvalidID = errors.New("identity: invalid id")

	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")
)
