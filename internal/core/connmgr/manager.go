package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/internal/util/keylock"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var logger = log.Logger("core/connmgr")

// Manager 连接管理器
type Manager struct {
	self      string
	transport interfaces.Transport
	signaling interfaces.SignalingChannel
	gater     *Gater
	clock     clock.Clock
	metrics   *metrics.Metrics
	cfg       Config

	stateEmitter   interfaces.Emitter
	messageEmitter interfaces.Emitter

	// locks 同一对端的变更串行执行
	locks *keylock.Table

	// 入站 offer 的门控在独立 goroutine 中执行，不阻塞信令分发
	ctx       context.Context
	cancel    context.CancelFunc
	admitMu   sync.Mutex
	admitting map[string]*types.SessionDescription
	admitWG   sync.WaitGroup

	mu       sync.RWMutex
	conns    map[string]*conn
	pending  map[string][]types.ICECandidate
	handlers map[types.EnvelopeKind]interfaces.EnvelopeHandler
	seq      uint64
	closed   bool
}

var _ interfaces.ConnectionManager = (*Manager)(nil)

// New 创建连接管理器
//
// gater 为 nil 时不做信任检查；bus 为 nil 时不发布事件。
func New(self string, tr interfaces.Transport, sig interfaces.SignalingChannel, gater *Gater, clk clock.Clock, m *metrics.Metrics, bus interfaces.EventBus, cfg Config) (*Manager, error) {
	if tr == nil {
		return nil, ErrNilTransport
	}
	if sig == nil {
		return nil, ErrNilSignaling
	}
	if clk == nil {
		clk = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		ctx:       ctx,
		cancel:    cancel,
		admitting: make(map[string]*types.SessionDescription),
		self:      self,
		transport: tr,
		signaling: sig,
		gater:     gater,
		clock:     clk,
		metrics:   m,
		cfg:       cfg,
		locks:     keylock.New(),
		conns:     make(map[string]*conn),
		pending:   make(map[string][]types.ICECandidate),
		handlers:  make(map[types.EnvelopeKind]interfaces.EnvelopeHandler),
	}
	if bus != nil {
		var err error
		if mgr.stateEmitter, err = bus.Emitter(new(types.ConnectionStateEvent)); err != nil {
			cancel()
			return nil, fmt.Errorf("connmgr: state emitter: %w", err)
		}
		if mgr.messageEmitter, err = bus.Emitter(new(types.MessageEvent)); err != nil {
			cancel()
			return nil, fmt.Errorf("connmgr: message emitter: %w", err)
		}
	}
	return mgr, nil
}

// Start 以自身为处理器启动信令邮箱
func (m *Manager) Start(ctx context.Context) error {
	return m.signaling.Start(ctx, m)
}

// ============================================================================
//                              注册表
// ============================================================================

// withPeer 在对端锁内执行 fn
func (m *Manager) withPeer(peer string, fn func()) {
	unlock := m.locks.Lock(peer)
	defer unlock()
	fn()
}

func (m *Manager) current(peer string) *conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[peer]
}

func (m *Manager) isCurrent(c *conn) bool {
	return m.current(c.peer) == c
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// install 以新实例替换注册表中的实例（调用方持有对端锁）
func (m *Manager) install(c *conn) {
	m.mu.Lock()
	m.conns[c.peer] = c
	m.mu.Unlock()
}

func (m *Manager) nextSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq
}

// setState 迁移状态并发布事件（调用方持有对端锁）
func (m *Manager) setState(c *conn, s types.ConnState, cause error) {
	m.mu.Lock()
	c.state = s
	active := m.activeLocked()
	m.mu.Unlock()

	m.metrics.ConnTransition(s.String())
	m.metrics.SetActiveConns(active)
	m.emitState(c.peer, s, cause)
}

func (m *Manager) setChannel(c *conn, dc interfaces.DataChannel) {
	m.mu.Lock()
	c.channel = dc
	m.mu.Unlock()
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, c := range m.conns {
		if c.state == types.ConnStateConnected {
			n++
		}
	}
	return n
}

func (m *Manager) emitState(peer string, s types.ConnState, cause error) {
	if m.stateEmitter == nil {
		return
	}
	if err := m.stateEmitter.Emit(types.ConnectionStateEvent{PeerID: peer, State: s, Err: cause}); err != nil {
		logger.Debug("发布连接状态事件失败", "error", err)
	}
}

// retire 让实例退出（调用方持有对端锁）
//
// silent 为 true 时不发布事件，用于 glare 与重复协商时替换实例。
// 返回需要在锁外关闭的对等连接。
func (m *Manager) retire(c *conn, s types.ConnState, cause error, silent bool) interfaces.PeerConnection {
	select {
	case <-c.done:
		return nil
	default:
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.err = cause

	m.mu.Lock()
	if m.conns[c.peer] == c {
		delete(m.conns, c.peer)
	}
	wasConnected := c.state == types.ConnStateConnected
	c.state = s
	active := m.activeLocked()
	m.mu.Unlock()

	close(c.done)
	m.metrics.SetActiveConns(active)
	if !silent || wasConnected {
		m.metrics.ConnTransition(s.String())
		m.emitState(c.peer, s, cause)
	}
	return c.pc
}

// closePC 在锁外关闭对等连接
func closePC(pc interfaces.PeerConnection) {
	if pc == nil {
		return
	}
	if err := pc.Close(); err != nil {
		logger.Debug("关闭对等连接失败", "error", err)
	}
}

// ============================================================================
//                              查询
// ============================================================================

// State 返回对端当前连接状态
func (m *Manager) State(peerID string) (types.ConnState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[peerID]
	if !ok {
		return types.ConnStateNew, false
	}
	return c.state, true
}

// Peers 返回已连接的对端，按 ID 排序
func (m *Manager) Peers() []string {
	m.mu.RLock()
	peers := make([]string, 0, len(m.conns))
	for id, c := range m.conns {
		if c.state == types.ConnStateConnected {
			peers = append(peers, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(peers)
	return peers
}

// WaitConnected 等待连接进入 CONNECTED
//
// 实例被替换（例如 glare 中放弃自己的 offer）时继续等待新实例；
// 不存在实例时返回最近一次失败原因或 ErrNoConnection。
func (m *Manager) WaitConnected(ctx context.Context, peerID string) error {
	var last *conn
	for {
		c := m.current(peerID)
		if c == nil {
			if last != nil && last.err != nil {
				return last.err
			}
			return ErrNoConnection
		}
		select {
		case <-c.connected:
			return nil
		case <-c.done:
			last = c
			// 等待可能的替换实例完成安装
			m.withPeer(peerID, func() {})
		case <-ctx.Done():
			return fmt.Errorf("connmgr: wait %s: %w", log.TruncateID(peerID, 8), types.ErrTimeout)
		}
	}
}

// ============================================================================
//                              连接
// ============================================================================

// Connect 向对端发起连接
//
// 已连接或协商中时为幂等空操作，返回当前状态。
func (m *Manager) Connect(ctx context.Context, peerID string) (types.ConnState, error) {
	if peerID == "" || peerID == m.self {
		return types.ConnStateNew, types.ErrInvalidPeerID
	}
	if m.isClosed() {
		return types.ConnStateNew, ErrManagerClosed
	}
	if m.gater != nil {
		if err := m.gater.InterceptDial(ctx, peerID); err != nil {
			logger.Debug("拒绝主动连接", "peer", log.TruncateID(peerID, 8), "error", err)
			return types.ConnStateNew, err
		}
	}

	var (
		state types.ConnState
		err   error
		stale interfaces.PeerConnection
	)
	m.withPeer(peerID, func() {
		if c := m.current(peerID); c != nil {
			state = c.state
			return
		}
		state, stale, err = m.offer(ctx, peerID)
	})
	closePC(stale)
	return state, err
}

// offer 创建新实例并发送 offer（调用方持有对端锁）
//
// 失败时返回需要在锁外关闭的对等连接。
func (m *Manager) offer(ctx context.Context, peerID string) (types.ConnState, interfaces.PeerConnection, error) {
	c := newConn(m, peerID, m.nextSeq())
	pc, err := m.transport.NewPeerConnection(peerID, c)
	if err != nil {
		return types.ConnStateFailed, nil, fmt.Errorf("connmgr: new peer connection: %w", err)
	}
	c.pc = pc

	fail := func(err error) (types.ConnState, interfaces.PeerConnection, error) {
		return types.ConnStateFailed, m.retire(c, types.ConnStateFailed, err, false), err
	}

	m.install(c)
	m.armTimeout(c)

	dc, err := pc.CreateDataChannel(m.cfg.ChannelLabel)
	if err != nil {
		return fail(fmt.Errorf("connmgr: create data channel: %w", err))
	}
	m.setChannel(c, dc)

	desc, err := pc.CreateOffer()
	if err != nil {
		return fail(fmt.Errorf("connmgr: create offer: %w", err))
	}
	m.setState(c, types.ConnStateHaveLocalOffer, nil)

	if err := m.sendDescription(ctx, peerID, types.SignalOffer, desc); err != nil {
		return fail(err)
	}
	logger.Debug("已发送 offer", "peer", log.TruncateID(peerID, 8))
	return types.ConnStateHaveLocalOffer, nil, nil
}

// armTimeout 协商超时后判定失败
func (m *Manager) armTimeout(c *conn) {
	c.timer = m.clock.AfterFunc(m.cfg.NegotiationTimeout, func() {
		var pc interfaces.PeerConnection
		m.withPeer(c.peer, func() {
			if !m.isCurrent(c) || c.state == types.ConnStateConnected {
				return
			}
			logger.Info("协商超时", "peer", log.TruncateID(c.peer, 8))
			pc = m.retire(c, types.ConnStateFailed, types.ErrTimeout, false)
			m.clearPending(c.peer)
		})
		closePC(pc)
	})
}

// channelOpen 数据通道打开
func (m *Manager) channelOpen(c *conn, dc interfaces.DataChannel) {
	m.withPeer(c.peer, func() {
		if !m.isCurrent(c) || c.state == types.ConnStateConnected {
			return
		}
		if c.timer != nil {
			c.timer.Stop()
		}
		m.setChannel(c, dc)
		m.setState(c, types.ConnStateConnected, nil)
		close(c.connected)
		logger.Info("连接已建立", "peer", log.TruncateID(c.peer, 8))
	})
}

// transportClosed 传输层报告失败或关闭
func (m *Manager) transportClosed(c *conn, err error) {
	var pc interfaces.PeerConnection
	m.withPeer(c.peer, func() {
		if !m.isCurrent(c) {
			return
		}
		state := types.ConnStateFailed
		if err == nil || errors.Is(err, types.ErrConnectionClosed) {
			state = types.ConnStateClosed
		}
		logger.Info("连接已断开", "peer", log.TruncateID(c.peer, 8), "state", state.String(), "error", err)
		pc = m.retire(c, state, err, false)
		m.clearPending(c.peer)
	})
	closePC(pc)
}

// Disconnect 关闭与对端的连接
func (m *Manager) Disconnect(peerID string) error {
	var pc interfaces.PeerConnection
	found := false
	m.withPeer(peerID, func() {
		c := m.current(peerID)
		m.clearPending(peerID)
		if c == nil {
			return
		}
		found = true
		pc = m.retire(c, types.ConnStateClosed, nil, false)
	})
	closePC(pc)
	if !found {
		return ErrNoConnection
	}
	return nil
}

// Close 关闭所有连接
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	peers := make([]string, 0, len(m.conns))
	for id := range m.conns {
		peers = append(peers, id)
	}
	m.mu.Unlock()

	m.admitMu.Lock()
	m.cancel()
	m.admitMu.Unlock()
	m.admitWG.Wait()

	for _, p := range peers {
		_ = m.Disconnect(p)
	}
	if m.stateEmitter != nil {
		_ = m.stateEmitter.Close()
	}
	if m.messageEmitter != nil {
		_ = m.messageEmitter.Close()
	}
	logger.Debug("连接管理器已关闭", "peers", len(peers))
	return nil
}
