package connmgr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// HandleSignal 分发来自信令邮箱的信令
//
// 信令可能重复投递，各处理函数对重复保持幂等。
func (m *Manager) HandleSignal(_ context.Context, sig *types.PeerSignal) {
	if sig == nil || sig.From == m.self || m.isClosed() {
		return
	}

	switch sig.Type {
	case types.SignalOffer:
		var desc types.SessionDescription
		if err := json.Unmarshal(sig.Payload, &desc); err != nil {
			logger.Debug("无效的 offer 载荷", "from", log.TruncateID(sig.From, 8), "error", err)
			return
		}
		m.admitOffer(sig.From, desc)
	case types.SignalAnswer:
		var desc types.SessionDescription
		if err := json.Unmarshal(sig.Payload, &desc); err != nil {
			logger.Debug("无效的 answer 载荷", "from", log.TruncateID(sig.From, 8), "error", err)
			return
		}
		m.onAnswer(sig.From, desc)
	case types.SignalICECandidate:
		var cand types.ICECandidate
		if err := json.Unmarshal(sig.Payload, &cand); err != nil {
			logger.Debug("无效的候选载荷", "from", log.TruncateID(sig.From, 8), "error", err)
			return
		}
		m.onCandidate(sig.From, cand)
	}
}

// admitOffer 在后台对 offer 做门控后处理
//
// 信任查询可能按策略重试数秒，不能占用邮箱分发。同一对端同时只有一个
// 门控在进行，期间到达的 offer 只保留最新一个，门控结束后接着处理。
func (m *Manager) admitOffer(from string, desc types.SessionDescription) {
	m.admitMu.Lock()
	if m.ctx.Err() != nil {
		m.admitMu.Unlock()
		return
	}
	if _, busy := m.admitting[from]; busy {
		m.admitting[from] = &desc
		m.admitMu.Unlock()
		return
	}
	m.admitting[from] = nil
	m.admitWG.Add(1)
	m.admitMu.Unlock()

	go func() {
		defer m.admitWG.Done()
		for {
			m.onOffer(m.ctx, from, desc)

			m.admitMu.Lock()
			next := m.admitting[from]
			if next == nil || m.ctx.Err() != nil {
				delete(m.admitting, from)
				m.admitMu.Unlock()
				return
			}
			m.admitting[from] = nil
			m.admitMu.Unlock()
			desc = *next
		}
	}()
}

// onOffer 处理远端 offer
func (m *Manager) onOffer(ctx context.Context, from string, desc types.SessionDescription) {
	if m.gater != nil {
		if err := m.gater.InterceptAccept(ctx, from); err != nil {
			logger.Info("丢弃来自未授权对端的 offer", "from", log.TruncateID(from, 8), "error", err)
			return
		}
	}

	var stale []interfaces.PeerConnection
	m.withPeer(from, func() {
		if m.isClosed() {
			return
		}
		if c := m.current(from); c != nil {
			switch {
			case c.state == types.ConnStateHaveLocalOffer:
				// glare：ID 较大的一方保留自己的 offer
				if m.self > from {
					logger.Debug("glare：保留本地 offer", "peer", log.TruncateID(from, 8))
					return
				}
				logger.Debug("glare：放弃本地 offer，应答对端", "peer", log.TruncateID(from, 8), "attempt", c.seq)
				stale = append(stale, m.retire(c, types.ConnStateClosed, nil, true))
			case c.remoteSDP == desc.SDP:
				// 重复投递
				return
			case c.state == types.ConnStateConnected:
				// 已连接时的 offer 来自被放弃的旧尝试；对端真正断开时传输层会先报告关闭
				logger.Debug("已连接，忽略 offer", "peer", log.TruncateID(from, 8))
				return
			default:
				// 协商中收到新的 offer（对端重新发起），以新实例替换
				stale = append(stale, m.retire(c, types.ConnStateClosed, nil, true))
			}
		}

		if pc := m.answer(ctx, from, desc); pc != nil {
			stale = append(stale, pc)
		}
	})
	for _, pc := range stale {
		closePC(pc)
	}
}

// answer 作为响应方应用 offer 并发送 answer（调用方持有对端锁）
//
// 失败时返回需要在锁外关闭的对等连接。
func (m *Manager) answer(ctx context.Context, from string, desc types.SessionDescription) interfaces.PeerConnection {
	c := newConn(m, from, m.nextSeq())
	pc, err := m.transport.NewPeerConnection(from, c)
	if err != nil {
		logger.Warn("创建对等连接失败", "peer", log.TruncateID(from, 8), "error", err)
		return nil
	}
	c.pc = pc
	c.remoteSDP = desc.SDP
	m.install(c)
	m.armTimeout(c)

	fail := func(err error) interfaces.PeerConnection {
		logger.Warn("应答 offer 失败", "peer", log.TruncateID(from, 8), "error", err)
		return m.retire(c, types.ConnStateFailed, err, false)
	}

	if err := pc.SetRemoteDescription(desc); err != nil {
		return fail(fmt.Errorf("connmgr: apply offer: %w", err))
	}
	m.flushPending(c)

	answer, err := pc.CreateAnswer()
	if err != nil {
		return fail(fmt.Errorf("connmgr: create answer: %w", err))
	}
	m.setState(c, types.ConnStateHaveRemoteOffer, nil)

	if err := m.sendDescription(ctx, from, types.SignalAnswer, answer); err != nil {
		return fail(err)
	}
	logger.Debug("已发送 answer", "peer", log.TruncateID(from, 8), "attempt", c.seq)
	return nil
}

// onAnswer 处理远端 answer，仅在 HAVE_LOCAL_OFFER 且尚未应用时有效
func (m *Manager) onAnswer(from string, desc types.SessionDescription) {
	var stale interfaces.PeerConnection
	m.withPeer(from, func() {
		c := m.current(from)
		if c == nil || c.state != types.ConnStateHaveLocalOffer || c.pc.HasRemoteDescription() {
			logger.Debug("忽略 answer", "peer", log.TruncateID(from, 8))
			return
		}
		if err := c.pc.SetRemoteDescription(desc); err != nil {
			logger.Warn("应用 answer 失败", "peer", log.TruncateID(from, 8), "error", err)
			stale = m.retire(c, types.ConnStateFailed, err, false)
			return
		}
		c.remoteSDP = desc.SDP
		m.flushPending(c)
	})
	closePC(stale)
}

// onCandidate 处理远端候选，远端描述就绪前缓冲
func (m *Manager) onCandidate(from string, cand types.ICECandidate) {
	m.withPeer(from, func() {
		c := m.current(from)
		if c == nil || !c.pc.HasRemoteDescription() {
			m.bufferCandidate(from, cand)
			return
		}
		if err := c.pc.AddICECandidate(cand); err != nil {
			logger.Debug("添加候选失败", "peer", log.TruncateID(from, 8), "error", err)
		}
	})
}

// bufferCandidate 缓冲早到的候选（调用方持有对端锁）
func (m *Manager) bufferCandidate(peer string, cand types.ICECandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := append(m.pending[peer], cand)
	if over := len(buf) - m.cfg.MaxPendingCandidates; over > 0 {
		buf = buf[over:]
	}
	m.pending[peer] = buf
}

// flushPending 应用缓冲的候选（调用方持有对端锁）
func (m *Manager) flushPending(c *conn) {
	m.mu.Lock()
	buf := m.pending[c.peer]
	delete(m.pending, c.peer)
	m.mu.Unlock()

	applied := 0
	for _, cand := range buf {
		if err := c.pc.AddICECandidate(cand); err != nil {
			// 旧协商遗留的候选
			logger.Debug("丢弃缓冲的候选", "peer", log.TruncateID(c.peer, 8), "error", err)
			continue
		}
		applied++
	}
	if len(buf) > 0 {
		logger.Debug("已应用缓冲的候选", "peer", log.TruncateID(c.peer, 8), "applied", applied, "buffered", len(buf))
	}
}

func (m *Manager) clearPending(peer string) {
	m.mu.Lock()
	delete(m.pending, peer)
	m.mu.Unlock()
}

// pendingCount 返回对端缓冲的候选数
func (m *Manager) pendingCount(peer string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending[peer])
}

func (m *Manager) sendDescription(ctx context.Context, peer string, t types.SignalType, desc types.SessionDescription) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	if err := m.signaling.Send(ctx, peer, t, data); err != nil {
		return fmt.Errorf("connmgr: send %s: %w", t, err)
	}
	return nil
}

// sendCandidate 转发本地候选，实例已被替换时丢弃
func (m *Manager) sendCandidate(c *conn, cand types.ICECandidate) {
	if !m.isCurrent(c) {
		return
	}
	data, err := json.Marshal(cand)
	if err != nil {
		return
	}
	if err := m.signaling.Send(context.Background(), c.peer, types.SignalICECandidate, data); err != nil {
		logger.Debug("发送候选失败", "peer", log.TruncateID(c.peer, 8), "error", err)
	}
}
