package interfaces

import "context"

// PresenceTracker 定义心跳在线状态跟踪
type PresenceTracker interface {
	// SetOnline 发布在线状态并开始心跳
	SetOnline(ctx context.Context) error

	// SetOffline 尽力发布离线状态并停止心跳
	SetOffline(ctx context.Context) error

	// IsOnline 对端是否在线（按陈旧阈值判定）
	IsOnline(ctx context.Context, peerID string) (bool, error)

	// OnlinePeers 返回本地缓存中在线的对端
	OnlinePeers() []string
}
