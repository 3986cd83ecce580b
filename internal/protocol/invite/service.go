// Package invite 实现一次性签名邀请协议
//
// 签发方把邀请写入私有命名空间 ~<issuer>/invites/<id>，
// 同时发布公开副本 invites/<id> 供接受方查找。
// 接受方校验通过后先写信任记录 trust/<lo>:<hi>，再把公开副本标记为已使用；
// 签发方通过订阅公开目录感知接受并同步私有副本。
package invite

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mr-tron/base58"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/internal/util/keylock"
	"github.com/dep2p/go-trustlink/internal/util/retry"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var logger = log.Logger("protocol/invite")

// inviteIDSize 邀请 ID 随机字节数
const inviteIDSize = 16

// Service 邀请协议服务
type Service struct {
	self    interfaces.LocalIdentity
	store   interfaces.TrustStore
	crypto  interfaces.CryptoService
	clock   clock.Clock
	metrics *metrics.Metrics
	config  *Config

	limiter *issuerLimiter
	rand    io.Reader

	// locks 同一服务内对同一邀请的接受串行执行
	//
	// 存储没有加锁原语，跨会话的并发接受仍可能同时成功，
	// 签发方以公开副本的 usedBy 为准只信任其中一方。
	locks *keylock.Table

	// accepted 已接受事件发射器（可为 nil）
	accepted interfaces.Emitter

	// mu 保护 issued 缓存与运行状态
	mu      sync.RWMutex
	issued  map[string]*types.Invite
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ interfaces.InviteProtocol = (*Service)(nil)

// New 创建邀请服务
func New(self interfaces.LocalIdentity, store interfaces.TrustStore, cs interfaces.CryptoService, clk clock.Clock, m *metrics.Metrics, bus interfaces.EventBus, opts ...Option) (*Service, error) {
	if self == nil {
		return nil, ErrNilIdentity
	}
	if store == nil {
		return nil, ErrNilStore
	}
	if clk == nil {
		clk = clock.New()
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Service{
		self:    self,
		store:   store,
		crypto:  cs,
		clock:   clk,
		metrics: m,
		config:  cfg,
		limiter: newIssuerLimiter(cfg.RateLimit, cfg.RateWindow),
		rand:    rand.Reader,
		locks:   keylock.New(),
		issued:  make(map[string]*types.Invite),
	}
	if bus != nil {
		em, err := bus.Emitter(new(types.InviteAcceptedEvent))
		if err != nil {
			return nil, fmt.Errorf("invite: create emitter: %w", err)
		}
		s.accepted = em
	}
	return s, nil
}

// ============================================================================
//                              签发
// ============================================================================

// GenerateInvite 签发邀请
//
// 超过速率限制时返回 types.ErrRateLimitExceeded，且不写入任何数据。
func (s *Service) GenerateInvite(ctx context.Context, ttl time.Duration) (*types.Invite, error) {
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	now := s.clock.Now()
	issuer := s.self.ID()
	if !s.limiter.Allow(issuer, now) {
		s.metrics.InviteRejected(rejectReason(types.ErrRateLimitExceeded))
		logger.Warn("邀请签发超过速率限制", "issuer", log.TruncateID(issuer, 8))
		return nil, types.ErrRateLimitExceeded
	}

	id, err := s.newInviteID()
	if err != nil {
		return nil, err
	}

	created := now.UTC().Truncate(time.Millisecond)
	inv := &types.Invite{
		ID:                  id,
		IssuerID:            issuer,
		IssuerNickname:      s.self.Nickname(),
		IssuerEncryptionKey: s.self.EncryptionKey(),
		CreatedAt:           created,
		ExpiresAt:           created.Add(ttl),
	}
	sig, err := s.crypto.Sign(s.self, inv.CanonicalBytes())
	if err != nil {
		return nil, fmt.Errorf("invite: sign: %w", err)
	}
	inv.Signature = sig

	data, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, privateInvitePath(issuer, id), data); err != nil {
		return nil, fmt.Errorf("invite: write private copy: %w", err)
	}
	if err := s.store.Put(ctx, publicInvitePath(id), data); err != nil {
		return nil, fmt.Errorf("invite: publish: %w", err)
	}

	s.mu.Lock()
	s.issued[id] = inv
	s.mu.Unlock()

	s.metrics.InviteIssued()
	logger.Info("邀请已签发", "inviteID", id, "expiresAt", inv.ExpiresAt)
	return copyInvite(inv), nil
}

// Link 返回邀请的分享链接
func (s *Service) Link(inviteID string) string {
	return Link(s.config.LinkBaseURL, inviteID)
}

func (s *Service) newInviteID() (string, error) {
	buf := make([]byte, inviteIDSize)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", fmt.Errorf("invite: generate id: %w", err)
	}
	return base58.Encode(buf), nil
}

// ============================================================================
//                              接受
// ============================================================================

// AcceptInvite 接受邀请并建立信任记录
//
// 校验顺序：查找（容忍复制延迟）、自邀请、屏蔽、已使用、过期、签名。
// 校验通过后先写由本方签名的信任记录，再标记邀请已使用。
// 同一身份重复接受是幂等的，返回已有的信任记录。
func (s *Service) AcceptInvite(ctx context.Context, inviteID string) (*types.TrustRecord, error) {
	rec, err := s.accept(ctx, inviteID)
	if err != nil {
		s.metrics.InviteRejected(rejectReason(err))
		logger.Debug("接受邀请失败", "inviteID", inviteID, "error", err)
		return nil, err
	}
	return rec, nil
}

func (s *Service) accept(ctx context.Context, inviteID string) (*types.TrustRecord, error) {
	if inviteID == "" {
		return nil, types.ErrInvalidInvite
	}

	unlock := s.locks.Lock(inviteID)
	defer unlock()

	inv, err := retry.Do(ctx, s.config.Lookup, func(ctx context.Context) (*types.Invite, error) {
		return s.loadInvite(ctx, publicInvitePath(inviteID))
	})
	if err != nil {
		return nil, fmt.Errorf("invite %s: lookup: %w", inviteID, err)
	}
	if inv.ID != inviteID {
		return nil, types.ErrInvalidInvite
	}

	self := s.self.ID()
	issuer := inv.IssuerID
	if issuer == self {
		return nil, types.ErrSelfInvite
	}

	blocked, err := s.blockedBetween(ctx, self, issuer)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, types.ErrBlocked
	}

	if inv.Used {
		if inv.UsedBy != self {
			return nil, types.ErrAlreadyUsed
		}
		// 幂等：信任记录先于使用标记写入，但可能尚未复制到本地
		return retry.Do(ctx, s.config.Lookup, func(ctx context.Context) (*types.TrustRecord, error) {
			return s.Trust(ctx, issuer)
		})
	}

	now := s.clock.Now()
	if inv.IsExpired(now) {
		return nil, types.ErrExpired
	}

	if err := s.crypto.Verify(issuer, inv.CanonicalBytes(), inv.Signature); err != nil {
		if s.config.SignaturePolicy != config.SignatureWarn {
			return nil, fmt.Errorf("invite %s: %w", inviteID, types.ErrSignatureInvalid)
		}
		logger.Warn("邀请签名无效，按策略继续", "inviteID", inviteID, "issuer", log.TruncateID(issuer, 8))
	}

	rec, err := s.Trust(ctx, issuer)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNotFound), errors.Is(err, ErrUnverifiedTrust):
		// 未通过校验的记录视为不存在，由本次接受覆盖
		rec, err = s.signTrust(inv, now.UTC())
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := s.store.Put(ctx, trustPath(self, issuer), data); err != nil {
			return nil, fmt.Errorf("invite: write trust record: %w", err)
		}
	default:
		return nil, err
	}

	inv.Used = true
	inv.UsedBy = self
	inv.UsedAt = now.UTC()
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, publicInvitePath(inviteID), data); err != nil {
		return nil, fmt.Errorf("invite: mark used: %w", err)
	}

	s.metrics.InviteAccepted()
	logger.Info("已接受邀请", "inviteID", inviteID, "issuer", log.TruncateID(issuer, 8))
	return rec, nil
}

func (s *Service) loadInvite(ctx context.Context, path string) (*types.Invite, error) {
	data, err := s.store.GetOnce(ctx, path)
	if err != nil {
		return nil, err
	}
	var inv types.Invite
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInvite, err)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// ============================================================================
//                              查询
// ============================================================================

// ListInvites 列出本地签发的邀请，按创建时间排序
func (s *Service) ListInvites(_ context.Context) ([]*types.Invite, error) {
	s.mu.RLock()
	out := make([]*types.Invite, 0, len(s.issued))
	for _, inv := range s.issued {
		out = append(out, copyInvite(inv))
	}
	s.mu.RUnlock()

	sortInvites(out)
	return out, nil
}

// Trust 获取与对端的信任记录
//
// 不存在时返回 types.ErrNotFound；记录存在但签名或邀请快照校验失败时返回 ErrUnverifiedTrust。
func (s *Service) Trust(ctx context.Context, peerID string) (*types.TrustRecord, error) {
	data, err := s.store.GetOnce(ctx, trustPath(s.self.ID(), peerID))
	if err != nil {
		return nil, err
	}
	var rec types.TrustRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnverifiedTrust, err)
	}
	if err := s.verifyTrust(ctx, &rec, peerID); err != nil {
		logger.Warn("信任记录未通过校验", "peer", log.TruncateID(peerID, 8), "error", err)
		return nil, err
	}
	return &rec, nil
}

// IsTrusted 是否与对端存在经过校验的信任记录
func (s *Service) IsTrusted(ctx context.Context, peerID string) (bool, error) {
	if peerID == s.self.ID() {
		return false, nil
	}
	_, err := s.Trust(ctx, peerID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, types.ErrNotFound), errors.Is(err, ErrUnverifiedTrust):
		return false, nil
	default:
		return false, err
	}
}

func copyInvite(inv *types.Invite) *types.Invite {
	c := *inv
	c.Signature = append([]byte(nil), inv.Signature...)
	return &c
}
