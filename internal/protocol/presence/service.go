// Package presence 实现基于心跳的在线状态跟踪
//
// 每个身份把自己的状态写入 presence/<id>，在线期间按心跳间隔重写，
// 并通过所有已打开的数据通道广播，直连对端无需等待存储复制。
// 记录从不删除：online 仅在 now - lastSeen < 陈旧阈值 时成立，
// 对端崩溃后无需离线消息即可自动判定离线。
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/internal/core/storage"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var logger = log.Logger("protocol/presence")

const presenceRoot = "presence"

func recordPath(id string) string {
	return storage.Join(presenceRoot, id)
}

// Broadcaster 通过数据通道广播并接收封装消息
//
// interfaces.ConnectionManager 满足该接口。
type Broadcaster interface {
	Broadcast(ctx context.Context, env *types.Envelope) int
	HandleEnvelope(kind types.EnvelopeKind, handler interfaces.EnvelopeHandler)
}

// Service 在线状态跟踪服务
type Service struct {
	self    string
	store   interfaces.TrustStore
	conns   Broadcaster
	clock   clock.Clock
	metrics *metrics.Metrics
	emitter interfaces.Emitter
	config  *Config

	mu       sync.RWMutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	statuses map[string]*peerStatus
	watches  map[string][]chan types.PresenceEvent

	// heartbeat 本地在线时的心跳取消函数
	hbMu      sync.Mutex
	heartbeat context.CancelFunc
	hbDone    chan struct{}
}

var _ interfaces.PresenceTracker = (*Service)(nil)

// New 创建在线状态服务
//
// conns 为 nil 时只通过存储发布；bus 为 nil 时不发布事件。
func New(self string, store interfaces.TrustStore, conns Broadcaster, clk clock.Clock, m *metrics.Metrics, bus interfaces.EventBus, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if self == "" {
		return nil, ErrInvalidPeerID
	}
	if clk == nil {
		clk = clock.New()
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.StalenessThreshold {
		return nil, ErrInvalidInterval
	}
	if cfg.Signer != nil && cfg.Signer.ID() != self {
		return nil, ErrSignerMismatch
	}

	s := &Service{
		self:     self,
		store:    store,
		conns:    conns,
		clock:    clk,
		metrics:  m,
		config:   cfg,
		statuses: make(map[string]*peerStatus),
		watches:  make(map[string][]chan types.PresenceEvent),
	}
	if bus != nil {
		em, err := bus.Emitter(new(types.PresenceEvent))
		if err != nil {
			return nil, fmt.Errorf("presence: create emitter: %w", err)
		}
		s.emitter = em
	}
	return s, nil
}

// ============================================================================
//                              本地状态
// ============================================================================

// SetOnline 发布在线状态并开始心跳
func (s *Service) SetOnline(ctx context.Context) error {
	if err := s.publish(ctx, types.PresenceOnline); err != nil {
		return err
	}

	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	if s.heartbeat == nil {
		hbCtx, cancel := context.WithCancel(context.Background())
		s.heartbeat = cancel
		s.hbDone = make(chan struct{})
		go s.heartbeatLoop(hbCtx, s.hbDone)
		logger.Info("已上线", "interval", s.config.HeartbeatInterval)
	}
	return nil
}

// SetOffline 停止心跳并尽力发布离线状态
func (s *Service) SetOffline(ctx context.Context) error {
	s.stopHeartbeat()
	if err := s.publish(ctx, types.PresenceOffline); err != nil {
		logger.Warn("发布离线状态失败", "error", err)
		return err
	}
	logger.Info("已下线")
	return nil
}

func (s *Service) stopHeartbeat() {
	s.hbMu.Lock()
	cancel, done := s.heartbeat, s.hbDone
	s.heartbeat, s.hbDone = nil, nil
	s.hbMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Service) heartbeatLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := s.clock.Ticker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.publish(ctx, types.PresenceOnline); err != nil && ctx.Err() == nil {
				logger.Debug("心跳发布失败", "error", err)
				continue
			}
			s.metrics.Heartbeat()
		}
	}
}

// publish 写入存储并通过数据通道广播
func (s *Service) publish(ctx context.Context, status types.PresenceStatus) error {
	now := s.clock.Now().UTC()
	rec := types.PresenceRecord{
		PeerID:    s.self,
		Status:    status,
		LastSeen:  now,
		Timestamp: now,
	}
	if s.signing() {
		sig, err := s.config.Crypto.Sign(s.config.Signer, rec.CanonicalBytes())
		if err != nil {
			return fmt.Errorf("presence: sign record: %w", err)
		}
		rec.Signature = sig
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.Put(gctx, recordPath(s.self), data)
	})
	if s.conns != nil {
		g.Go(func() error {
			n := s.conns.Broadcast(gctx, &types.Envelope{Kind: types.EnvelopePresence, Data: data})
			logger.Debug("已广播在线状态", "status", status, "peers", n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("presence: publish %s: %w", status, err)
	}
	return nil
}

// ============================================================================
//                              对端状态
// ============================================================================

// IsOnline 对端是否在线
//
// 读取存储中的记录，与本地缓存（可能来自数据通道）取较新者按陈旧阈值判定。
func (s *Service) IsOnline(ctx context.Context, peerID string) (bool, error) {
	if peerID == "" {
		return false, ErrInvalidPeerID
	}
	now := s.clock.Now()

	rec, err := s.load(ctx, peerID)
	if err != nil && !errors.Is(err, types.ErrNotFound) && !errors.Is(err, ErrUnsignedRecord) {
		return false, err
	}

	s.mu.RLock()
	cached, ok := s.statuses[peerID]
	if ok && (rec == nil || cached.lastSeen.After(rec.LastSeen)) {
		rec = &types.PresenceRecord{PeerID: peerID, Status: cached.status, LastSeen: cached.lastSeen}
	}
	s.mu.RUnlock()

	return rec.IsOnline(now, s.config.StalenessThreshold), nil
}

func (s *Service) load(ctx context.Context, peerID string) (*types.PresenceRecord, error) {
	data, err := s.store.GetOnce(ctx, recordPath(peerID))
	if err != nil {
		return nil, err
	}
	var rec types.PresenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("presence: decode record: %w", err)
	}
	if rec.PeerID != peerID {
		return nil, fmt.Errorf("%w: peer id mismatch", ErrUnsignedRecord)
	}
	if err := s.verify(&rec); err != nil {
		logger.Warn("忽略签名无效的在线记录", "peer", log.TruncateID(peerID, 8), "error", err)
		return nil, err
	}
	return &rec, nil
}

func (s *Service) signing() bool {
	return s.config.Signer != nil && s.config.Crypto != nil
}

// verify 校验存储来源的记录签名，未启用签名时直接通过
//
// 数据通道上的广播已由连接绑定发送方身份，不经过这里。
func (s *Service) verify(rec *types.PresenceRecord) error {
	if !s.signing() {
		return nil
	}
	if err := s.config.Crypto.Verify(rec.PeerID, rec.CanonicalBytes(), rec.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsignedRecord, err)
	}
	return nil
}

// OnlinePeers 返回本地缓存中在线的对端，按 ID 排序
func (s *Service) OnlinePeers() []string {
	now := s.clock.Now()
	s.mu.RLock()
	peers := make([]string, 0, len(s.statuses))
	for id, ps := range s.statuses {
		if ps.online && now.Sub(ps.lastSeen) < s.config.StalenessThreshold {
			peers = append(peers, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(peers)
	return peers
}

// observe 合并对端记录到缓存，状态变化时通知
func (s *Service) observe(rec *types.PresenceRecord) {
	if rec.PeerID == "" || rec.PeerID == s.self {
		return
	}

	s.mu.Lock()
	ps, ok := s.statuses[rec.PeerID]
	if !ok {
		ps = &peerStatus{peerID: rec.PeerID}
		s.statuses[rec.PeerID] = ps
	}
	changed, _ := ps.apply(rec, s.clock.Now(), s.config.StalenessThreshold)
	// 首次见到在线对端也视为变化
	var ev *types.PresenceEvent
	if changed {
		e := ps.event()
		ev = &e
	}
	s.mu.Unlock()

	if ev != nil {
		s.notify(*ev)
	}
}

// cleanup 降级超过阈值的缓存条目，只影响本地视图
func (s *Service) cleanup() {
	now := s.clock.Now()
	var events []types.PresenceEvent

	s.mu.Lock()
	for _, ps := range s.statuses {
		if ps.expire(now, s.config.StalenessThreshold) {
			events = append(events, ps.event())
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		logger.Debug("对端心跳过期", "peer", log.TruncateID(ev.PeerID, 8))
		s.notify(ev)
	}
}

// notify 发布事件并推送给 Watch 通道
func (s *Service) notify(ev types.PresenceEvent) {
	if s.emitter != nil {
		if err := s.emitter.Emit(ev); err != nil {
			logger.Debug("发布在线状态事件失败", "error", err)
		}
	}

	s.mu.RLock()
	online := 0
	for _, ps := range s.statuses {
		if ps.online {
			online++
		}
	}
	for _, ch := range s.watches[ev.PeerID] {
		select {
		case ch <- ev:
		default:
			logger.Debug("Watch 通道已满，丢弃事件", "peer", log.TruncateID(ev.PeerID, 8))
		}
	}
	s.mu.RUnlock()

	s.metrics.SetPeersOnline(online)
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 订阅存储中的在线记录并注册数据通道处理器
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	// 后台循环不继承 Fx OnStart 的 ctx
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.store.SubscribeMap(ctx, presenceRoot)
	if err != nil {
		cancel()
		return fmt.Errorf("presence: subscribe: %w", err)
	}
	s.ctx, s.cancel = ctx, cancel
	s.started = true

	if s.conns != nil {
		s.conns.HandleEnvelope(types.EnvelopePresence, s.handleEnvelope)
	}

	s.wg.Add(2)
	go s.watchLoop(ctx, sub)
	go s.cleanupLoop(ctx)

	logger.Info("在线状态服务已启动", "staleness", s.config.StalenessThreshold)
	return nil
}

// Stop 停止后台循环并关闭所有 Watch 通道
//
// 不发布离线状态，对端依靠陈旧阈值判定离线。
func (s *Service) Stop(_ context.Context) error {
	s.stopHeartbeat()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.cancel()
	watches := s.watches
	s.watches = make(map[string][]chan types.PresenceEvent)
	s.mu.Unlock()

	s.wg.Wait()
	for _, channels := range watches {
		for _, ch := range channels {
			close(ch)
		}
	}
	if s.emitter != nil {
		_ = s.emitter.Close()
	}
	logger.Info("在线状态服务已停止")
	return nil
}

func (s *Service) watchLoop(ctx context.Context, sub interfaces.StoreSubscription) {
	defer s.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Deleted {
				continue
			}
			var rec types.PresenceRecord
			if err := json.Unmarshal(ev.Value, &rec); err != nil {
				logger.Debug("忽略无法解析的在线记录", "key", ev.Key, "error", err)
				continue
			}
			if rec.PeerID != ev.Key {
				continue
			}
			if err := s.verify(&rec); err != nil {
				logger.Debug("忽略签名无效的在线记录", "key", ev.Key, "error", err)
				continue
			}
			s.observe(&rec)
		}
	}
}

func (s *Service) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := s.clock.Ticker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// handleEnvelope 处理数据通道上收到的在线状态广播
//
// 只接受发送方自身的记录。
func (s *Service) handleEnvelope(peerID string, env *types.Envelope) {
	var rec types.PresenceRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		logger.Debug("忽略无法解析的在线广播", "peer", log.TruncateID(peerID, 8), "error", err)
		return
	}
	if rec.PeerID != peerID {
		logger.Debug("忽略代他人声明的在线广播", "peer", log.TruncateID(peerID, 8))
		return
	}
	s.observe(&rec)
}

// ============================================================================
//                              Watch
// ============================================================================

// Watch 订阅某个对端的在线状态变化
func (s *Service) Watch(peerID string) (<-chan types.PresenceEvent, error) {
	if peerID == "" {
		return nil, ErrInvalidPeerID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, ErrNotStarted
	}
	ch := make(chan types.PresenceEvent, s.config.WatchBuffer)
	s.watches[peerID] = append(s.watches[peerID], ch)
	return ch, nil
}

// Unwatch 取消对某个对端的所有订阅并关闭通道
func (s *Service) Unwatch(peerID string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	channels, ok := s.watches[peerID]
	if !ok || len(channels) == 0 {
		s.mu.Unlock()
		return ErrWatchNotFound
	}
	delete(s.watches, peerID)
	s.mu.Unlock()

	for _, ch := range channels {
		close(ch)
	}
	return nil
}
