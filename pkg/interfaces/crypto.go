package interfaces

import "crypto/ed25519"

// Identity 身份公开信息
type Identity interface {
	// ID 身份 ID（签名公钥编码）
	ID() string
	// Nickname 昵称
	Nickname() string
	// EncryptionKey 加密公钥编码
	EncryptionKey() string
}

// LocalIdentity 本地身份，持有私钥
type LocalIdentity interface {
	Identity
	// SigningKey 签名私钥
	SigningKey() ed25519.PrivateKey
	// EncryptionSecret 加密私钥（X25519 标量）
	EncryptionSecret() []byte
}

// CryptoService 定义签名与加密服务
type CryptoService interface {
	// Sign 使用本地身份签名数据
	Sign(local LocalIdentity, data []byte) ([]byte, error)

	// Verify 使用公开身份 ID 验证签名
	Verify(publicID string, data, signature []byte) error

	// DeriveSharedSecret 与远端加密公钥派生共享密钥（双方结果一致）
	DeriveSharedSecret(local LocalIdentity, remoteEncKey string) ([]byte, error)

	// SymmetricEncrypt 对称加密
	SymmetricEncrypt(secret, plaintext []byte) ([]byte, error)

	// SymmetricDecrypt 对称解密
	SymmetricDecrypt(secret, ciphertext []byte) ([]byte, error)
}
