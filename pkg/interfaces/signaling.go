package interfaces

import (
	"context"

	"github.com/dep2p/go-trustlink/pkg/types"
)

// SignalHandler 信令分发目标
type SignalHandler interface {
	// HandleSignal 处理一条有效信令（可能重复投递）
	HandleSignal(ctx context.Context, signal *types.PeerSignal)
}

// SignalingChannel 定义基于信任存储的信令邮箱
type SignalingChannel interface {
	// Send 向目标邮箱投递信令
	Send(ctx context.Context, targetID string, signalType types.SignalType, payload []byte) error

	// Start 订阅自己的邮箱并开始分发
	Start(ctx context.Context, handler SignalHandler) error

	// Stop 停止订阅
	Stop() error
}
