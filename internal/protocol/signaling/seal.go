package signaling

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// secretCacheSize 缓存的成对密钥数量
const secretCacheSize = 128

// TrustLookup 查询与对端的信任记录
//
// invite.Service 实现该接口。
type TrustLookup interface {
	Trust(ctx context.Context, peerID string) (*types.TrustRecord, error)
}

// sealer 使用成对共享密钥加解密信令载荷
type sealer struct {
	self    interfaces.LocalIdentity
	crypto  interfaces.CryptoService
	trust   TrustLookup
	secrets *lru.Cache[string, []byte]
}

func newSealer(self interfaces.LocalIdentity, cs interfaces.CryptoService, trust TrustLookup) *sealer {
	cache, _ := lru.New[string, []byte](secretCacheSize)
	return &sealer{self: self, crypto: cs, trust: trust, secrets: cache}
}

// secret 返回与对端的共享密钥，按对端加密公钥缓存
func (s *sealer) secret(ctx context.Context, peerID string) ([]byte, error) {
	rec, err := s.trust.Trust(ctx, peerID)
	if err != nil {
		return nil, err
	}
	_, encKey, ok := rec.Peer(s.self.ID())
	if !ok {
		return nil, types.ErrNotTrusted
	}
	if sec, ok := s.secrets.Get(encKey); ok {
		return sec, nil
	}
	sec, err := s.crypto.DeriveSharedSecret(s.self, encKey)
	if err != nil {
		return nil, fmt.Errorf("signaling: derive secret: %w", err)
	}
	s.secrets.Add(encKey, sec)
	return sec, nil
}

// seal 加密发往 peerID 的载荷
func (s *sealer) seal(ctx context.Context, peerID string, payload []byte) ([]byte, error) {
	sec, err := s.secret(ctx, peerID)
	if err != nil {
		return nil, err
	}
	return s.crypto.SymmetricEncrypt(sec, payload)
}

// open 解密来自 peerID 的载荷
func (s *sealer) open(ctx context.Context, peerID string, sealed []byte) ([]byte, error) {
	sec, err := s.secret(ctx, peerID)
	if err != nil {
		return nil, err
	}
	return s.crypto.SymmetricDecrypt(sec, sealed)
}
