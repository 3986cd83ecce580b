package crypto

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-trustlink/pkg/types"
)

var (
	// ErrInvalidKey 无效的密钥
	ErrInvalidKey = errors.New("crypto: invalid key")

	// ErrBadSignature 签名校验失败
	ErrBadSignature = fmt.Errorf("crypto: %w", types.ErrSignatureInvalid)

	// ErrCiphertextTooShort 密文过短
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrDecrypt 解密或认证失败
	ErrDecrypt = errors.New("crypto: decryption failed")
)
