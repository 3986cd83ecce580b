package invite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// signTrust 由接受方构建并签名信任记录
//
// 记录内嵌未使用状态的邀请快照，签发方签名随快照一起保存。
func (s *Service) signTrust(inv *types.Invite, at time.Time) (*types.TrustRecord, error) {
	self := s.self.ID()
	rec := types.NewTrustRecord(self, s.self.EncryptionKey(), inv.IssuerID, inv.IssuerEncryptionKey, at)

	snapshot := copyInvite(inv)
	snapshot.Used, snapshot.UsedBy, snapshot.UsedAt = false, "", time.Time{}
	rec.InviteID = inv.ID
	rec.Accepter = self
	rec.Invite = snapshot

	sig, err := s.crypto.Sign(s.self, rec.CanonicalBytes())
	if err != nil {
		return nil, fmt.Errorf("invite: sign trust record: %w", err)
	}
	rec.AccepterSignature = sig
	return rec, nil
}

// verifyTrust 校验从共享存储读取的信任记录
//
// 存储对任何人可写，记录只有同时满足以下条件才被采信：
// 双方身份与本地对端一致、邀请快照由签发方签名、接受方签名有效；
// 若本方是签发方，邀请还必须确实由本方签发且未被其他身份使用。
func (s *Service) verifyTrust(ctx context.Context, rec *types.TrustRecord, peerID string) error {
	self := s.self.ID()
	want := types.NewTrustRecord(self, "", peerID, "", rec.EstablishedAt)
	if rec.PartyA != want.PartyA || rec.PartyB != want.PartyB || rec.ConversationID != want.ConversationID {
		return fmt.Errorf("%w: parties mismatch", ErrUnverifiedTrust)
	}

	issuer := rec.Issuer()
	if issuer == "" {
		return fmt.Errorf("%w: accepter is not a party", ErrUnverifiedTrust)
	}
	inv := rec.Invite
	if inv == nil || inv.ID == "" || inv.ID != rec.InviteID || inv.IssuerID != issuer {
		return fmt.Errorf("%w: invite snapshot mismatch", ErrUnverifiedTrust)
	}
	if _, encKey, _ := rec.Peer(rec.Accepter); encKey != inv.IssuerEncryptionKey {
		return fmt.Errorf("%w: issuer encryption key mismatch", ErrUnverifiedTrust)
	}
	if inv.IsExpired(rec.EstablishedAt) {
		return fmt.Errorf("%w: established after invite expiry", ErrUnverifiedTrust)
	}

	if err := s.crypto.Verify(issuer, inv.CanonicalBytes(), inv.Signature); err != nil {
		if s.config.SignaturePolicy != config.SignatureWarn {
			return fmt.Errorf("%w: issuer signature: %v", ErrUnverifiedTrust, err)
		}
		logger.Warn("信任记录中的邀请签名无效，按策略继续", "inviteID", inv.ID, "issuer", log.TruncateID(issuer, 8))
	}
	if err := s.crypto.Verify(rec.Accepter, rec.CanonicalBytes(), rec.AccepterSignature); err != nil {
		return fmt.Errorf("%w: accepter signature: %v", ErrUnverifiedTrust, err)
	}

	if issuer == self {
		return s.checkOwnInvite(ctx, inv, rec.Accepter)
	}
	return nil
}

// checkOwnInvite 确认邀请由本方签发，且没有被 accepter 以外的身份使用
func (s *Service) checkOwnInvite(ctx context.Context, snapshot *types.Invite, accepter string) error {
	s.mu.RLock()
	own, ok := s.issued[snapshot.ID]
	s.mu.RUnlock()

	if !ok {
		loaded, err := s.loadInvite(ctx, privateInvitePath(s.self.ID(), snapshot.ID))
		switch {
		case err == nil:
			own = loaded
		case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidInvite):
			return fmt.Errorf("%w: unknown invite %s", ErrUnverifiedTrust, snapshot.ID)
		default:
			return err
		}
	}
	if !bytes.Equal(own.Signature, snapshot.Signature) {
		return fmt.Errorf("%w: invite %s was not issued by us", ErrUnverifiedTrust, snapshot.ID)
	}

	if !own.Used {
		// 本地尚未观察到接受，以公开副本为准
		pub, err := s.loadInvite(ctx, publicInvitePath(snapshot.ID))
		switch {
		case err == nil:
			own = pub
		case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidInvite):
		default:
			return err
		}
	}
	if own.Used && own.UsedBy != accepter {
		return fmt.Errorf("%w: invite %s used by another peer", ErrUnverifiedTrust, snapshot.ID)
	}
	return nil
}
