// Package identity 提供本地身份的实现
//
// 每个身份持有两对密钥：
//   - Ed25519 签名密钥，公钥的 Base58 编码即身份 ID
//   - X25519 加密密钥，公钥的 Base58 编码即加密公钥
//
// 身份可持久化为 PEM 文件（见 storage.go）。
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Identity 本地身份
type Identity struct {
	nickname string
	signing  ed25519.PrivateKey
	enc      []byte

	id     string
	encPub string
}

// 确保 Identity 实现了 interfaces.LocalIdentity 接口
var _ interfaces.LocalIdentity = (*Identity)(nil)

// Generate 生成新身份
func Generate(nickname string) (*Identity, error) {
	return GenerateFrom(rand.Reader, nickname)
}

// GenerateFrom 使用指定随机源生成新身份
func GenerateFrom(r io.Reader, nickname string) (*Identity, error) {
	_, signing, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	enc := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(r, enc); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	return newIdentity(nickname, signing, enc)
}

// FromKeys 由已有密钥构建身份
func FromKeys(nickname string, signingSeed, encSecret []byte) (*Identity, error) {
	if len(signingSeed) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	if len(encSecret) != curve25519.ScalarSize {
		return nil, ErrInvalidKey
	}
	enc := make([]byte, curve25519.ScalarSize)
	copy(enc, encSecret)
	return newIdentity(nickname, ed25519.NewKeyFromSeed(signingSeed), enc)
}

func newIdentity(nickname string, signing ed25519.PrivateKey, enc []byte) (*Identity, error) {
	encPub, err := curve25519.X25519(enc, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Identity{
		nickname: nickname,
		signing:  signing,
		enc:      enc,
		id:       base58.Encode(signing.Public().(ed25519.PublicKey)),
		encPub:   base58.Encode(encPub),
	}, nil
}

// ID 返回身份 ID（签名公钥 Base58）
func (i *Identity) ID() string {
	return i.id
}

// Nickname 返回昵称
func (i *Identity) Nickname() string {
	return i.nickname
}

// SetNickname 设置昵称
func (i *Identity) SetNickname(nickname string) {
	i.nickname = nickname
}

// EncryptionKey 返回加密公钥（X25519 公钥 Base58）
func (i *Identity) EncryptionKey() string {
	return i.encPub
}

// SigningKey 返回签名私钥
func (i *Identity) SigningKey() ed25519.PrivateKey {
	return i.signing
}

// EncryptionSecret 返回 X25519 私钥标量
func (i *Identity) EncryptionSecret() []byte {
	return i.enc
}

// DecodeID 将身份 ID 解码为 Ed25519 公钥
func DecodeID(id string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(id)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidID
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeEncryptionKey 将加密公钥解码为 X25519 公钥字节
func DecodeEncryptionKey(key string) ([]byte, error) {
	raw, err := base58.Decode(key)
	if err != nil || len(raw) != curve25519.PointSize {
		return nil, ErrInvalidKey
	}
	return raw, nil
}
