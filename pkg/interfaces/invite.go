package interfaces

import (
	"context"
	"time"

	"github.com/dep2p/go-trustlink/pkg/types"
)

// InviteProtocol 定义一次性签名邀请协议
type InviteProtocol interface {
	// GenerateInvite 签发邀请
	//
	// ttl 为 0 时使用默认有效期；超过速率限制返回 types.ErrRateLimitExceeded 且不写入。
	GenerateInvite(ctx context.Context, ttl time.Duration) (*types.Invite, error)

	// AcceptInvite 接受邀请并建立信任记录
	AcceptInvite(ctx context.Context, inviteID string) (*types.TrustRecord, error)

	// ListInvites 列出本地签发的邀请
	ListInvites(ctx context.Context) ([]*types.Invite, error)

	// Trust 获取与对端的信任记录
	Trust(ctx context.Context, peerID string) (*types.TrustRecord, error)

	// IsTrusted 是否与对端存在信任记录
	IsTrusted(ctx context.Context, peerID string) (bool, error)

	// Block 屏蔽对端
	Block(ctx context.Context, peerID string) error

	// Unblock 取消屏蔽
	Unblock(ctx context.Context, peerID string) error

	// IsBlocked 任一方向是否存在屏蔽
	IsBlocked(ctx context.Context, peerID string) (bool, error)
}
