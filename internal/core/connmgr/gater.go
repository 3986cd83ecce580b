package connmgr

import (
	"context"
	"sync/atomic"

	"github.com/dep2p/go-trustlink/internal/util/retry"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// TrustChecker 查询信任与屏蔽状态
//
// interfaces.InviteProtocol 满足该接口。
type TrustChecker interface {
	IsTrusted(ctx context.Context, peerID string) (bool, error)
	IsBlocked(ctx context.Context, peerID string) (bool, error)
}

// Gater 连接门控器
//
// 主动连接与接受 offer 前检查屏蔽与信任记录。
// 信任记录可能尚未复制到本地，查询按策略有界重试。
type Gater struct {
	trust  TrustChecker
	policy retry.Policy

	// 统计
	interceptedDials   atomic.Int64
	interceptedAccepts atomic.Int64
}

// NewGater 创建连接门控器
func NewGater(trust TrustChecker, policy retry.Policy) *Gater {
	return &Gater{trust: trust, policy: policy}
}

// InterceptDial 主动连接前检查，拒绝时返回原因
func (g *Gater) InterceptDial(ctx context.Context, peerID string) error {
	if err := g.check(ctx, peerID); err != nil {
		g.interceptedDials.Add(1)
		return err
	}
	return nil
}

// InterceptAccept 接受 offer 前检查，拒绝时返回原因
func (g *Gater) InterceptAccept(ctx context.Context, peerID string) error {
	if err := g.check(ctx, peerID); err != nil {
		g.interceptedAccepts.Add(1)
		return err
	}
	return nil
}

// Stats 返回被拦截的主动连接与接受次数
func (g *Gater) Stats() (dials, accepts int64) {
	return g.interceptedDials.Load(), g.interceptedAccepts.Load()
}

func (g *Gater) check(ctx context.Context, peerID string) error {
	if g.trust == nil {
		return nil
	}

	blocked, err := g.trust.IsBlocked(ctx, peerID)
	if err != nil {
		return err
	}
	if blocked {
		return types.ErrBlocked
	}

	_, err = retry.Do(ctx, g.policy, func(ctx context.Context) (struct{}, error) {
		ok, err := g.trust.IsTrusted(ctx, peerID)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, types.ErrNotFound
		}
		return struct{}{}, nil
	})
	if err != nil {
		if types.ClassOf(err) == types.ClassTransient {
			return types.ErrNotTrusted
		}
		return err
	}
	return nil
}
