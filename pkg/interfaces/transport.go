package interfaces

import "github.com/dep2p/go-trustlink/pkg/types"

// Transport 定义点对点传输层（WebRTC 语义）
type Transport interface {
	// NewPeerConnection 为远端创建新的对等连接
	NewPeerConnection(peerID string, handler PeerConnectionHandler) (PeerConnection, error)
}

// PeerConnection 对等连接
//
// CreateOffer / CreateAnswer 同时设置本地描述。
type PeerConnection interface {
	// CreateDataChannel 创建可靠有序数据通道（发起方调用）
	CreateDataChannel(label string) (DataChannel, error)

	// CreateOffer 创建 offer 并设为本地描述
	CreateOffer() (types.SessionDescription, error)

	// CreateAnswer 创建 answer 并设为本地描述
	CreateAnswer() (types.SessionDescription, error)

	// SetRemoteDescription 应用远端描述
	SetRemoteDescription(desc types.SessionDescription) error

	// HasRemoteDescription 是否已设置远端描述
	HasRemoteDescription() bool

	// AddICECandidate 添加远端 ICE 候选
	AddICECandidate(candidate types.ICECandidate) error

	// Close 关闭连接并释放资源
	Close() error
}

// DataChannel 数据通道
type DataChannel interface {
	// Label 通道标签
	Label() string
	// Send 发送数据
	Send(data []byte) error
	// IsOpen 通道是否已打开
	IsOpen() bool
	// Close 关闭通道
	Close() error
}

// PeerConnectionHandler 对等连接回调
//
// 回调可能在传输层内部 goroutine 中调用，实现方需自行同步。
type PeerConnectionHandler interface {
	// OnICECandidate 本地收集到新的 ICE 候选
	OnICECandidate(candidate types.ICECandidate)
	// OnDataChannel 响应方收到远端创建的数据通道
	OnDataChannel(dc DataChannel)
	// OnChannelOpen 数据通道打开
	OnChannelOpen(dc DataChannel)
	// OnChannelMessage 数据通道收到消息
	OnChannelMessage(dc DataChannel, data []byte)
	// OnClosed 传输失败或关闭
	OnClosed(err error)
}
