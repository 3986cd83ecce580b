package trustlink

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/connmgr"
	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/internal/protocol/invite"
	"github.com/dep2p/go-trustlink/internal/protocol/presence"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var logger = log.Logger("trustlink")

const (
	// startTimeout Fx App 启动超时
	startTimeout = 30 * time.Second

	// stopTimeout Fx App 停止超时
	stopTimeout = 10 * time.Second
)

// Session 一个身份的运行实例
//
// 持有独立的 fx 容器与全部组件，多个会话互不影响。
type Session struct {
	app    *fx.App
	config *config.Config

	mu      sync.Mutex
	started bool
	closed  bool
	online  bool

	// 由 fx 注入
	identity interfaces.LocalIdentity
	bus      interfaces.EventBus
	store    interfaces.TrustStore
	invite   *invite.Service
	conns    *connmgr.Manager
	presence *presence.Service
	metrics  *metrics.Metrics
}

// New 创建会话，组件在 Start 时启动
func New(opts ...Option) (*Session, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	cfg, err := o.toConfig()
	if err != nil {
		return nil, err
	}

	s := &Session{config: cfg}
	s.app = buildFxApp(o, cfg, s)
	if err := s.app.Err(); err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}
	return s, nil
}

// Start 启动全部组件
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := s.app.Start(startCtx); err != nil {
		logger.Error("会话启动失败", "error", err)
		return fmt.Errorf("start session: %w", err)
	}
	s.started = true
	logger.Info("会话已启动", "id", log.TruncateID(s.identity.ID(), 8))
	return nil
}

// Close 关闭会话
//
// 若调用过 SetOnline，先尽力发布离线状态。
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started, online := s.started, s.online
	s.mu.Unlock()

	if !started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	var errs error
	if online {
		errs = multierr.Append(errs, s.presence.SetOffline(ctx))
	}
	errs = multierr.Append(errs, s.app.Stop(ctx))
	if errs != nil {
		logger.Warn("会话关闭时出错", "error", errs)
	}
	logger.Info("会话已关闭")
	return errs
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrSessionClosed
	case !s.started:
		return ErrNotStarted
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              身份
// ════════════════════════════════════════════════════════════════════════════

// ID 返回本地身份 ID
func (s *Session) ID() string {
	return s.identity.ID()
}

// Nickname 返回本地昵称
func (s *Session) Nickname() string {
	return s.identity.Nickname()
}

// Config 返回生效的配置
func (s *Session) Config() *config.Config {
	return s.config
}

// ════════════════════════════════════════════════════════════════════════════
//                              邀请与信任
// ════════════════════════════════════════════════════════════════════════════

// GenerateInvite 签发邀请，ttl <= 0 时使用默认有效期
func (s *Session) GenerateInvite(ctx context.Context, ttl time.Duration) (*types.Invite, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.invite.GenerateInvite(ctx, ttl)
}

// InviteLink 返回邀请的带外链接
func (s *Session) InviteLink(inv *types.Invite) string {
	return s.invite.Link(inv.ID)
}

// AcceptInvite 接受邀请，参数可以是链接或邀请 ID
func (s *Session) AcceptInvite(ctx context.Context, linkOrID string) (*types.TrustRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := invite.ParseLink(linkOrID)
	if err != nil {
		return nil, err
	}
	return s.invite.AcceptInvite(ctx, id)
}

// ListInvites 列出本地签发的邀请
func (s *Session) ListInvites(ctx context.Context) ([]*types.Invite, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.invite.ListInvites(ctx)
}

// IsTrusted 是否与对端存在信任关系
func (s *Session) IsTrusted(ctx context.Context, peerID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.invite.IsTrusted(ctx, peerID)
}

// Block 屏蔽对端，已建立的连接随之断开
func (s *Session) Block(ctx context.Context, peerID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.invite.Block(ctx, peerID); err != nil {
		return err
	}
	if _, ok := s.conns.State(peerID); ok {
		_ = s.conns.Disconnect(peerID)
	}
	return nil
}

// Unblock 取消屏蔽
func (s *Session) Unblock(ctx context.Context, peerID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.invite.Unblock(ctx, peerID)
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接
// ════════════════════════════════════════════════════════════════════════════

// Connect 向对端发起连接
func (s *Session) Connect(ctx context.Context, peerID string) (types.ConnState, error) {
	if err := s.ready(); err != nil {
		return types.ConnStateNew, err
	}
	return s.conns.Connect(ctx, peerID)
}

// WaitConnected 等待与对端的数据通道打开
func (s *Session) WaitConnected(ctx context.Context, peerID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.conns.WaitConnected(ctx, peerID)
}

// State 返回与对端的连接状态
func (s *Session) State(peerID string) (types.ConnState, bool) {
	return s.conns.State(peerID)
}

// Peers 返回存在连接实例的对端
func (s *Session) Peers() []string {
	return s.conns.Peers()
}

// Disconnect 断开与对端的连接
func (s *Session) Disconnect(peerID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.conns.Disconnect(peerID)
}

// SendMessage 通过数据通道发送消息
func (s *Session) SendMessage(ctx context.Context, peerID string, payload []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.conns.SendMessage(ctx, peerID, payload)
}

// ════════════════════════════════════════════════════════════════════════════
//                              在线状态
// ════════════════════════════════════════════════════════════════════════════

// SetOnline 发布在线状态并开始心跳
func (s *Session) SetOnline(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.presence.SetOnline(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.online = true
	s.mu.Unlock()
	return nil
}

// SetOffline 停止心跳并发布离线状态
func (s *Session) SetOffline(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	s.online = false
	s.mu.Unlock()
	return s.presence.SetOffline(ctx)
}

// IsOnline 对端是否在线
func (s *Session) IsOnline(ctx context.Context, peerID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.presence.IsOnline(ctx, peerID)
}

// OnlinePeers 返回本地视图中在线的对端
func (s *Session) OnlinePeers() []string {
	return s.presence.OnlinePeers()
}

// ════════════════════════════════════════════════════════════════════════════
//                              观测
// ════════════════════════════════════════════════════════════════════════════

// SubscribeEvents 订阅事件
//
// eventType 为事件类型指针，例如 new(types.MessageEvent)。
func (s *Session) SubscribeEvents(eventType interface{}, opts ...interfaces.SubscriptionOpt) (interfaces.Subscription, error) {
	return s.bus.Subscribe(eventType, opts...)
}

// MetricsHandler 返回 Prometheus 指标处理器，指标禁用时返回 404
func (s *Session) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}
