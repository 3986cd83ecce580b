// Package crypto 提供签名、密钥协商与对称加密服务
//
// 算法组合：
//   - 签名：Ed25519
//   - 密钥协商：X25519 + HKDF-SHA256（盐为排序后的双方加密公钥）
//   - 对称加密：XChaCha20-Poly1305，密文前缀 24 字节随机 nonce
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/dep2p/go-trustlink/internal/core/identity"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// pairwiseInfo HKDF info 字段，变更会使已有会话密钥失效
const pairwiseInfo = "trustlink/pairwise/v1"

// SecretSize 共享密钥长度
const SecretSize = chacha20poly1305.KeySize

// Service 加密服务实现
type Service struct {
	rand io.Reader
}

// 确保 Service 实现了 interfaces.CryptoService 接口
var _ interfaces.CryptoService = (*Service)(nil)

// NewService 创建加密服务
func NewService() *Service {
	return &Service{rand: rand.Reader}
}

// Sign 使用本地身份签名数据
func (s *Service) Sign(local interfaces.LocalIdentity, data []byte) ([]byte, error) {
	key := local.SigningKey()
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.Sign(key, data), nil
}

// Verify 验证签名
//
// publicID 无法解码或签名不匹配时返回 ErrBadSignature。
func (s *Service) Verify(publicID string, data, signature []byte) error {
	pub, err := identity.DecodeID(publicID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(signature) != ed25519.SignatureSize || !ed25519.Verify(pub, data, signature) {
		return ErrBadSignature
	}
	return nil
}

// DeriveSharedSecret 派生双方一致的共享密钥
func (s *Service) DeriveSharedSecret(local interfaces.LocalIdentity, remoteEncKey string) ([]byte, error) {
	remote, err := identity.DecodeEncryptionKey(remoteEncKey)
	if err != nil {
		return nil, err
	}
	localPub, err := identity.DecodeEncryptionKey(local.EncryptionKey())
	if err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(local.EncryptionSecret(), remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	salt := pairSalt(localPub, remote)
	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(pairwiseInfo)), secret); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return secret, nil
}

// pairSalt 按字节序拼接双方公钥，保证两端一致
func pairSalt(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	salt := make([]byte, 0, len(a)+len(b))
	salt = append(salt, a...)
	return append(salt, b...)
}

// SymmetricEncrypt 加密，输出 nonce || ciphertext
func (s *Service) SymmetricEncrypt(secret, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(s.rand, out); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(out, out, plaintext, nil), nil
}

// SymmetricDecrypt 解密 SymmetricEncrypt 的输出
func (s *Service) SymmetricDecrypt(secret, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}
