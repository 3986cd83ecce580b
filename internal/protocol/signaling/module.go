package signaling

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Params 模块依赖参数
type Params struct {
	fx.In

	Config   *config.Config
	Identity interfaces.LocalIdentity
	Store    interfaces.TrustStore
	Crypto   interfaces.CryptoService
	Invite   interfaces.InviteProtocol
	Clock    clock.Clock
	Metrics  *metrics.Metrics `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Service   *Service
	Signaling interfaces.SignalingChannel
}

// ProvideService 创建信令邮箱
//
// 邮箱由连接管理器以自身为处理器启动，这里只负责停止。
func ProvideService(lc fx.Lifecycle, p Params) (Result, error) {
	cfg := ConfigFromUnified(p.Config.Signaling)
	svc, err := New(p.Identity, p.Store, p.Crypto, p.Invite, p.Clock, p.Metrics, func(c *Config) { *c = *cfg })
	if err != nil {
		return Result{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return svc.Stop()
		},
	})
	return Result{Service: svc, Signaling: svc}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("signaling",
		fx.Provide(ProvideService),
	)
}
