package signaling

import "errors"

var (
	// ErrNilStore 未提供信任存储
	ErrNilStore = errors.New("signaling: nil trust store")

	// ErrNilHandler 未提供信令处理器
	ErrNilHandler = errors.New("signaling: nil handler")

	// ErrAlreadyStarted 已在订阅邮箱
	ErrAlreadyStarted = errors.New("signaling: already started")
)

// 丢弃原因（指标标签）
const (
	dropInvalid      = "invalid"
	dropMisaddressed = "misaddressed"
	dropStale        = "stale"
	dropDuplicate    = "duplicate"
	dropUnseal       = "unseal"
)
