package types

import "time"

// ConnectionStateEvent 连接状态变化事件
type ConnectionStateEvent struct {
	PeerID string
	State  ConnState
	// Err 失败原因（仅 FAILED 时可能非空）
	Err error
}

// PresenceEvent 对端在线状态变化事件
type PresenceEvent struct {
	PeerID   string
	Online   bool
	LastSeen time.Time
}

// MessageEvent 收到对端应用消息
type MessageEvent struct {
	PeerID  string
	ID      string
	Payload []byte
}

// InviteAcceptedEvent 本地签发的邀请被接受
type InviteAcceptedEvent struct {
	InviteID string
	Accepter string
	Record   *TrustRecord
}
