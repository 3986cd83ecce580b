package invite

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
	Clock    clock.Clock
	EventBus interfaces.EventBus
	Metrics  *metrics.Metrics `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Service *Service
	Invite  interfaces.InviteProtocol
}

// ProvideService 创建邀请服务并注册生命周期
func ProvideService(lc fx.Lifecycle, p Params) (Result, error) {
	cfg := ConfigFromUnified(p.Config.Invite)
	svc, err := New(p.Identity, p.Store, p.Crypto, p.Clock, p.Metrics, p.EventBus, func(c *Config) { *c = *cfg })
	if err != nil {
		return Result{}, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Start(ctx)
		},
		OnStop: func(context.Context) error {
			return svc.Stop()
		},
	})
	return Result{Service: svc, Invite: svc}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("invite",
		fx.Provide(ProvideService),
	)
}
