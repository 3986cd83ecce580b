package interfaces

import (
	"context"

	"github.com/dep2p/go-trustlink/pkg/types"
)

// EnvelopeHandler 数据通道消息处理器
type EnvelopeHandler func(peerID string, env *types.Envelope)

// ConnectionManager 定义按对端的连接状态机管理器
type ConnectionManager interface {
	SignalHandler

	// Connect 向对端发起连接（已连接时为幂等空操作）
	Connect(ctx context.Context, peerID string) (types.ConnState, error)

	// WaitConnected 等待连接进入 CONNECTED
	WaitConnected(ctx context.Context, peerID string) error

	// State 返回对端当前连接状态
	State(peerID string) (types.ConnState, bool)

	// Peers 返回已连接的对端
	Peers() []string

	// SendMessage 发送应用消息，通道未就绪时有界等待
	SendMessage(ctx context.Context, peerID string, payload []byte) error

	// Broadcast 向所有已打开的通道广播封装消息
	Broadcast(ctx context.Context, env *types.Envelope) int

	// HandleEnvelope 注册某类封装消息的处理器
	HandleEnvelope(kind types.EnvelopeKind, handler EnvelopeHandler)

	// Disconnect 关闭与对端的连接
	Disconnect(peerID string) error

	// Close 关闭所有连接
	Close() error
}
