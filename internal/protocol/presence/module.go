package presence

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

	Config            *config.Config
	Identity          interfaces.LocalIdentity
	Crypto            interfaces.CryptoService
	Store             interfaces.TrustStore
	ConnectionManager interfaces.ConnectionManager
	Clock             clock.Clock
	EventBus          interfaces.EventBus
	Metrics           *metrics.Metrics `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Service  *Service
	Presence interfaces.PresenceTracker
}

// ProvideService 创建在线状态服务并注册生命周期
func ProvideService(lc fx.Lifecycle, p Params) (Result, error) {
	cfg := ConfigFromUnified(p.Config.Presence)
	svc, err := New(p.Identity.ID(), p.Store, p.ConnectionManager, p.Clock, p.Metrics, p.EventBus,
		func(c *Config) { *c = *cfg },
		WithSigner(p.Identity, p.Crypto),
	)
	if err != nil {
		return Result{}, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return svc.Stop(ctx)
		},
	})
	return Result{Service: svc, Presence: svc}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("presence",
		fx.Provide(ProvideService),
	)
}
