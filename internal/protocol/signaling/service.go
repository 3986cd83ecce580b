// Package signaling 实现基于信任存储的信令邮箱
//
// 每个身份拥有以自身 ID 为地址的邮箱 mailbox/<id>。
// 发送方写入 mailbox/<target>/<nonce>，并在 TTL 后删除该条目（无论是否被消费）；
// 邮箱主人订阅自己的邮箱，丢弃过期条目，其余按类型分发后删除。
// 投递语义为至少一次，下游需要容忍重复。
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/internal/core/storage"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var logger = log.Logger("protocol/signaling")

const mailboxRoot = "mailbox"

// MailboxPath 返回身份的邮箱目录
func MailboxPath(id string) string {
	return storage.Join(mailboxRoot, id)
}

func entryPath(target, nonce string) string {
	return storage.Join(mailboxRoot, target, nonce)
}

// Service 信令邮箱
type Service struct {
	self    interfaces.LocalIdentity
	store   interfaces.TrustStore
	clock   clock.Clock
	metrics *metrics.Metrics
	config  *Config
	sealer  *sealer

	seen *lru.Cache[string, struct{}]

	timersMu sync.Mutex
	timers   map[string]*clock.Timer

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ interfaces.SignalingChannel = (*Service)(nil)

// New 创建信令邮箱
//
// trust 为 nil 时不加密载荷。
func New(self interfaces.LocalIdentity, store interfaces.TrustStore, cs interfaces.CryptoService, trust TrustLookup, clk clock.Clock, m *metrics.Metrics, opts ...Option) (*Service, error) {
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

	seen, err := lru.New[string, struct{}](cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("signaling: dedup cache: %w", err)
	}

	s := &Service{
		self:    self,
		store:   store,
		clock:   clk,
		metrics: m,
		config:  cfg,
		seen:    seen,
		timers:  make(map[string]*clock.Timer),
	}
	if trust != nil && cs != nil && cfg.SealPayloads {
		s.sealer = newSealer(self, cs, trust)
	}
	return s, nil
}

// Send 向目标邮箱投递信令，并安排 TTL 后删除
func (s *Service) Send(ctx context.Context, targetID string, signalType types.SignalType, payload []byte) error {
	if !signalType.Valid() || targetID == "" {
		return types.ErrInvalidSignal
	}

	sig := types.PeerSignal{
		Type:      signalType,
		From:      s.self.ID(),
		To:        targetID,
		Payload:   payload,
		Timestamp: s.clock.Now().UTC(),
		Nonce:     uuid.NewString(),
	}
	if s.sealer != nil {
		sealed, err := s.sealer.seal(ctx, targetID, payload)
		switch {
		case err == nil:
			sig.Payload, sig.Sealed = sealed, true
		case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrNotTrusted):
			logger.Debug("无信任记录，明文发送信令", "to", log.TruncateID(targetID, 8))
		default:
			return err
		}
	}

	data, err := json.Marshal(&sig)
	if err != nil {
		return err
	}
	path := entryPath(targetID, sig.Nonce)
	if err := s.store.Put(ctx, path, data); err != nil {
		return fmt.Errorf("signaling: send %s: %w", signalType, err)
	}
	s.scheduleDelete(sig.Nonce, path)

	s.metrics.SignalSent(string(signalType))
	logger.Debug("信令已发送", "type", signalType, "to", log.TruncateID(targetID, 8))
	return nil
}

// scheduleDelete TTL 到期后删除条目，约束邮箱增长
func (s *Service) scheduleDelete(nonce, path string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	s.timers[nonce] = s.clock.AfterFunc(s.config.TTL, func() {
		s.timersMu.Lock()
		delete(s.timers, nonce)
		s.timersMu.Unlock()
		if err := s.store.Delete(context.Background(), path); err != nil {
			logger.Debug("删除过期信令失败", "path", path, "error", err)
		}
	})
}

// Start 订阅自己的邮箱并开始分发
func (s *Service) Start(ctx context.Context, handler interfaces.SignalHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub, err := s.store.SubscribeMap(loopCtx, MailboxPath(s.self.ID()))
	if err != nil {
		cancel()
		return fmt.Errorf("signaling: subscribe mailbox: %w", err)
	}

	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.receiveLoop(loopCtx, sub, handler, s.done)

	logger.Debug("信令邮箱已启动", "id", log.TruncateID(s.self.ID(), 8))
	return nil
}

// Stop 停止订阅并取消未触发的删除
func (s *Service) Stop() error {
	s.mu.Lock()
	started := s.started
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if started {
		cancel()
		<-done
	}

	s.timersMu.Lock()
	for nonce, t := range s.timers {
		t.Stop()
		delete(s.timers, nonce)
	}
	s.timersMu.Unlock()
	return nil
}

func (s *Service) receiveLoop(ctx context.Context, sub interfaces.StoreSubscription, handler interfaces.SignalHandler, done chan struct{}) {
	defer close(done)
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
			s.receive(ctx, ev, handler)
		}
	}
}

// receive 处理一个邮箱条目，处理完成后删除
func (s *Service) receive(ctx context.Context, ev interfaces.StoreEvent, handler interfaces.SignalHandler) {
	sig, reason := s.decode(ctx, ev)
	if reason == "" {
		handler.HandleSignal(ctx, sig)
		s.metrics.SignalDispatched(string(sig.Type))
	} else {
		s.metrics.SignalDropped(reason)
		logger.Debug("丢弃信令", "key", ev.Key, "reason", reason)
	}

	if err := s.store.Delete(ctx, ev.Path); err != nil && ctx.Err() == nil {
		logger.Debug("删除已处理信令失败", "path", ev.Path, "error", err)
	}
}

// decode 校验并解封条目，返回丢弃原因（为空表示可分发）
func (s *Service) decode(ctx context.Context, ev interfaces.StoreEvent) (*types.PeerSignal, string) {
	var sig types.PeerSignal
	if err := json.Unmarshal(ev.Value, &sig); err != nil || sig.Validate() != nil {
		return nil, dropInvalid
	}
	if sig.To != s.self.ID() {
		return nil, dropMisaddressed
	}
	// 仅在 age < TTL 时有效
	if sig.Age(s.clock.Now()) >= s.config.TTL {
		return nil, dropStale
	}
	if seen, _ := s.seen.ContainsOrAdd(sig.Nonce, struct{}{}); seen {
		return nil, dropDuplicate
	}

	if sig.Sealed {
		if s.sealer == nil {
			return nil, dropUnseal
		}
		plain, err := s.sealer.open(ctx, sig.From, sig.Payload)
		if err != nil {
			return nil, dropUnseal
		}
		sig.Payload, sig.Sealed = plain, false
	}
	return &sig, ""
}
