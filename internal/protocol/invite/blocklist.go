package invite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// blockEntry 屏蔽标记，由 Owner 签名
type blockEntry struct {
	Owner     string    `json:"owner"`
	Peer      string    `json:"peer"`
	BlockedAt time.Time `json:"blockedAt"`
	Signature []byte    `json:"signature"`
}

func (e *blockEntry) canonicalBytes() []byte {
	data, _ := json.Marshal([]any{e.Owner, e.Peer, e.BlockedAt.UnixMilli()})
	return data
}

// Block 屏蔽对端
//
// 屏蔽标记写入自己的私有命名空间并由本方签名，
// 双方的接受与连接都会检查两个方向。
func (s *Service) Block(ctx context.Context, peerID string) error {
	if peerID == "" || peerID == s.self.ID() {
		return types.ErrInvalidPeerID
	}
	entry := blockEntry{Owner: s.self.ID(), Peer: peerID, BlockedAt: s.clock.Now().UTC()}
	sig, err := s.crypto.Sign(s.self, entry.canonicalBytes())
	if err != nil {
		return fmt.Errorf("invite: sign block marker: %w", err)
	}
	entry.Signature = sig
	data, err := json.Marshal(&entry)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, blockPath(s.self.ID(), peerID), data); err != nil {
		return err
	}
	logger.Info("已屏蔽对端", "peer", log.TruncateID(peerID, 8))
	return nil
}

// Unblock 取消屏蔽
func (s *Service) Unblock(ctx context.Context, peerID string) error {
	if peerID == "" {
		return types.ErrInvalidPeerID
	}
	return s.store.Delete(ctx, blockPath(s.self.ID(), peerID))
}

// IsBlocked 任一方向是否存在屏蔽
func (s *Service) IsBlocked(ctx context.Context, peerID string) (bool, error) {
	return s.blockedBetween(ctx, s.self.ID(), peerID)
}

func (s *Service) blockedBetween(ctx context.Context, a, b string) (bool, error) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		data, err := s.store.GetOnce(ctx, blockPath(pair[0], pair[1]))
		switch {
		case err == nil:
			if s.verifyBlock(data, pair[0], pair[1]) {
				return true, nil
			}
		case errors.Is(err, types.ErrNotFound):
		default:
			return false, err
		}
	}
	return false, nil
}

// verifyBlock 只采信 owner 本人签名的屏蔽标记
func (s *Service) verifyBlock(data []byte, owner, peer string) bool {
	var entry blockEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logger.Debug("忽略无法解析的屏蔽标记", "owner", log.TruncateID(owner, 8))
		return false
	}
	if entry.Owner != owner || entry.Peer != peer {
		logger.Debug("忽略路径不符的屏蔽标记", "owner", log.TruncateID(owner, 8))
		return false
	}
	if err := s.crypto.Verify(owner, entry.canonicalBytes(), entry.Signature); err != nil {
		logger.Warn("忽略签名无效的屏蔽标记", "owner", log.TruncateID(owner, 8), "error", err)
		return false
	}
	return true
}
