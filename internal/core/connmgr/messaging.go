package connmgr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// HandleEnvelope 注册某类封装消息的处理器，重复注册覆盖旧处理器
func (m *Manager) HandleEnvelope(kind types.EnvelopeKind, handler interfaces.EnvelopeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handler == nil {
		delete(m.handlers, kind)
		return
	}
	m.handlers[kind] = handler
}

// openChannel 返回已连接实例的打开通道
func (m *Manager) openChannel(peerID string) interfaces.DataChannel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[peerID]
	if !ok || c.state != types.ConnStateConnected || c.channel == nil || !c.channel.IsOpen() {
		return nil
	}
	return c.channel
}

// SendMessage 发送应用消息
//
// 通道未就绪时按 ReadyPollInterval 轮询，最长等待 ReadyWait，
// 仍未就绪则返回 types.ErrChannelNotReady，从不静默丢弃。
func (m *Manager) SendMessage(ctx context.Context, peerID string, payload []byte) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := &types.Envelope{Kind: types.EnvelopeMessage, ID: uuid.NewString(), Data: data}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	dc, err := m.waitChannel(ctx, peerID)
	if err != nil {
		return err
	}
	if err := dc.Send(frame); err != nil {
		return fmt.Errorf("connmgr: send to %s: %w", log.TruncateID(peerID, 8), err)
	}
	m.metrics.LogSent(len(frame))
	return nil
}

// waitChannel 有界等待通道就绪
func (m *Manager) waitChannel(ctx context.Context, peerID string) (interfaces.DataChannel, error) {
	if dc := m.openChannel(peerID); dc != nil {
		return dc, nil
	}

	deadline := m.clock.Timer(m.cfg.ReadyWait)
	defer deadline.Stop()
	ticker := m.clock.Ticker(m.cfg.ReadyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if dc := m.openChannel(peerID); dc != nil {
				return dc, nil
			}
		case <-deadline.C:
			return nil, types.ErrChannelNotReady
		case <-ctx.Done():
			return nil, types.ErrChannelNotReady
		}
	}
}

// Broadcast 向所有已打开的通道发送封装消息，返回成功发送的对端数
func (m *Manager) Broadcast(_ context.Context, env *types.Envelope) int {
	frame, err := json.Marshal(env)
	if err != nil {
		logger.Warn("序列化广播消息失败", "kind", env.Kind, "error", err)
		return 0
	}

	m.mu.RLock()
	channels := make(map[string]interfaces.DataChannel, len(m.conns))
	for id, c := range m.conns {
		if c.state == types.ConnStateConnected && c.channel != nil && c.channel.IsOpen() {
			channels[id] = c.channel
		}
	}
	m.mu.RUnlock()

	sent := 0
	for id, dc := range channels {
		if err := dc.Send(frame); err != nil {
			logger.Debug("广播发送失败", "peer", log.TruncateID(id, 8), "error", err)
			continue
		}
		m.metrics.LogSent(len(frame))
		sent++
	}
	return sent
}

// receive 解析并分发数据通道消息
func (m *Manager) receive(peerID string, frame []byte) {
	m.metrics.LogRecv(len(frame))

	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		logger.Debug("无效的数据通道消息", "peer", log.TruncateID(peerID, 8), "error", err)
		return
	}

	if env.Kind == types.EnvelopeMessage && m.messageEmitter != nil {
		var payload []byte
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			logger.Debug("无效的应用消息", "peer", log.TruncateID(peerID, 8), "error", err)
			return
		}
		if err := m.messageEmitter.Emit(types.MessageEvent{PeerID: peerID, ID: env.ID, Payload: payload}); err != nil {
			logger.Debug("发布消息事件失败", "error", err)
		}
	}

	m.mu.RLock()
	h := m.handlers[env.Kind]
	m.mu.RUnlock()
	if h != nil {
		h(peerID, &env)
	}
}
