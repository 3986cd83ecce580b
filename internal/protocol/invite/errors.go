package invite

import (
	"errors"

	"github.com/dep2p/go-trustlink/pkg/types"
)

var (
	// ErrNilStore 未提供信任存储
	ErrNilStore = errors.New("invite: nil trust store")

	// ErrNilIdentity 未提供本地身份
	ErrNilIdentity = errors.New("invite: nil identity")

	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = errors.New("invite: already started")

	// ErrInvalidLink 无法解析的邀请链接
	ErrInvalidLink = errors.New("invite: invalid link")

	// ErrUnverifiedTrust 信任记录未通过签名或邀请快照校验
	ErrUnverifiedTrust = errors.New("invite: unverified trust record")
)

// rejectReason 返回指标使用的拒绝原因
func rejectReason(err error) string {
	switch {
	case errors.Is(err, types.ErrExpired):
		return "expired"
	case errors.Is(err, types.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, types.ErrSignatureInvalid), errors.Is(err, ErrUnverifiedTrust):
		return "signature"
	case errors.Is(err, types.ErrBlocked):
		return "blocked"
	case errors.Is(err, types.ErrRateLimitExceeded):
		return "rate_limit"
	case errors.Is(err, types.ErrSelfInvite):
		return "self"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrTimeout):
		return "timeout"
	default:
		return "other"
	}
}
