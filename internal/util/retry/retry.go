// Package retry 提供有界退避重试原语
//
// 用于容忍共享存储的复制延迟：只有暂态错误（types.ErrNotFound）会被重试，
// 其他错误立即返回；尝试次数耗尽后返回 types.ErrNotFound，
// 上下文超时返回 types.ErrTimeout，从不静默返回空值。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dep2p/go-trustlink/pkg/types"
)

// Policy 重试策略
type Policy struct {
	// Attempts 最大尝试次数（含首次）
	Attempts int
	// Initial 首次退避间隔
	Initial time.Duration
	// Max 最大退避间隔
	Max time.Duration
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 5,
		Initial:  250 * time.Millisecond,
		Max:      4 * time.Second,
	}
}

// newBackOff 根据策略构建指数退避
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// Do 按策略执行 op，直到成功、遇到非暂态错误或尝试次数耗尽
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	attempts := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, types.ErrNotFound) {
			return v, err
		}
		return v, backoff.Permanent(err)
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.Attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return result, nil
	}

	var zero T
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return zero, fmt.Errorf("after %d attempts: %w", attempts, types.ErrTimeout)
	case errors.Is(err, types.ErrNotFound):
		return zero, fmt.Errorf("after %d attempts: %w", attempts, types.ErrNotFound)
	default:
		return zero, err
	}
}
