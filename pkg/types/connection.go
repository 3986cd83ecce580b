package types

// ConnState 连接状态
type ConnState int

const (
	// ConnStateNew 新建
	ConnStateNew ConnState = iota
	// ConnStateHaveLocalOffer 已发送本地 offer
	ConnStateHaveLocalOffer
	// ConnStateHaveRemoteOffer 已应用远端 offer 并发送 answer
	ConnStateHaveRemoteOffer
	// ConnStateConnected 数据通道已打开
	ConnStateConnected
	// ConnStateFailed 失败（终态）
	ConnStateFailed
	// ConnStateClosed 关闭（终态）
	ConnStateClosed
)

// String 返回连接状态的字符串表示
func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "NEW"
	case ConnStateHaveLocalOffer:
		return "HAVE_LOCAL_OFFER"
	case ConnStateHaveRemoteOffer:
		return "HAVE_REMOTE_OFFER"
	case ConnStateConnected:
		return "CONNECTED"
	case ConnStateFailed:
		return "FAILED"
	case ConnStateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 是否为终态
func (s ConnState) IsTerminal() bool {
	return s == ConnStateFailed || s == ConnStateClosed
}
