package types

import "errors"

// ============================================================================
//                              邀请相关错误（校验类）
// ============================================================================

var (
	// ErrExpired 邀请已过期
	ErrExpired = errors.New("invite expired")

	// ErrAlreadyUsed 邀请已被他人使用
	ErrAlreadyUsed = errors.New("invite already used")

	// ErrSignatureInvalid 签名无效
	ErrSignatureInvalid = errors.New("invite signature invalid")

	// ErrBlocked 任一方已屏蔽另一方
	ErrBlocked = errors.New("party blocked")

	// ErrRateLimitExceeded 超过邀请速率限制
	ErrRateLimitExceeded = errors.New("invite rate limit exceeded")

	// ErrSelfInvite 不能接受自己签发的邀请
	ErrSelfInvite = errors.New("cannot accept own invite")

	// ErrInvalidInvite 邀请结构无效
	ErrInvalidInvite = errors.New("invalid invite")

	// ErrNotTrusted 与对端没有信任记录
	ErrNotTrusted = errors.New("peer not trusted")

	// ErrInvalidSignal 信令结构无效
	ErrInvalidSignal = errors.New("invalid peer signal")

	// ErrInvalidPeerID 无效的身份 ID
	ErrInvalidPeerID = errors.New("invalid peer id")
)

// ============================================================================
//                              暂态错误
// ============================================================================

var (
	// ErrNotFound 存储中（尚）不存在
	ErrNotFound = errors.New("not found")

	// ErrTimeout 等待超时
	ErrTimeout = errors.New("timeout")
)

// ============================================================================
//                              资源错误
// ============================================================================

var (
	// ErrChannelNotReady 数据通道未就绪
	ErrChannelNotReady = errors.New("data channel not ready")

	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTransportFailed 传输层失败
	ErrTransportFailed = errors.New("transport failed")
)

// ErrorClass 错误分类
type ErrorClass int

const (
	// ClassUnknown 未分类
	ClassUnknown ErrorClass = iota
	// ClassValidation 校验错误：交给调用方处理，不自动重试
	ClassValidation
	// ClassTransient 暂态错误：内部有界重试后才返回
	ClassTransient
	// ClassResource 资源错误：表现为连接失败事件，调用方可重新 connect
	ClassResource
)

// String 返回分类名
func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassTransient:
		return "transient"
	case ClassResource:
		return "resource"
	default:
		return "unknown"
	}
}

var (
	validationErrors = []error{
		ErrExpired, ErrAlreadyUsed, ErrSignatureInvalid, ErrBlocked,
		ErrRateLimitExceeded, ErrSelfInvite, ErrInvalidInvite, ErrNotTrusted,
		ErrInvalidSignal, ErrInvalidPeerID,
	}
	transientErrors = []error{ErrNotFound, ErrTimeout}
	resourceErrors  = []error{ErrChannelNotReady, ErrConnectionClosed, ErrTransportFailed}
)

// ClassOf 返回错误所属分类
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return ClassValidation
		}
	}
	for _, target := range transientErrors {
		if errors.Is(err, target) {
			return ClassTransient
		}
	}
	for _, target := range resourceErrors {
		if errors.Is(err, target) {
			return ClassResource
		}
	}
	return ClassUnknown
}
