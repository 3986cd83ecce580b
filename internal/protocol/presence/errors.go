package presence

import "errors"

var (
	// ErrNilStore 未提供信任存储
	ErrNilStore = errors.New("presence: nil trust store")

	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = errors.New("presence: already started")

	// ErrNotStarted 服务未启动
	ErrNotStarted = errors.New("presence: not started")

	// ErrInvalidPeerID 无效的身份 ID
	ErrInvalidPeerID = errors.New("presence: invalid peer id")

	// ErrUnsignedRecord 存储中的记录缺少有效签名
	ErrUnsignedRecord = errors.New("presence: record signature invalid")

	// ErrSignerMismatch 签名身份与服务身份不一致
	ErrSignerMismatch = errors.New("presence: signer does not match self")

	// ErrInvalidInterval 心跳间隔不小于陈旧阈值
	ErrInvalidInterval = errors.New("presence: heartbeat interval must be less than staleness threshold")
)

// ErrWatchNotFound 未找到对应的 Watch
var ErrWatchNotFound = errors.New("presence: watch not found")
