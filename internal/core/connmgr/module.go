package connmgr

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

	Config    *config.Config
	Identity  interfaces.LocalIdentity
	Transport interfaces.Transport
	Signaling interfaces.SignalingChannel
	Invite    interfaces.InviteProtocol
	Clock     clock.Clock
	EventBus  interfaces.EventBus
	Metrics   *metrics.Metrics `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Manager           *Manager
	ConnectionManager interfaces.ConnectionManager
}

// ProvideManager 创建连接管理器，启动时开始处理信令
func ProvideManager(lc fx.Lifecycle, p Params) (Result, error) {
	cfg := ConfigFromUnified(p.Config)
	gater := NewGater(p.Invite, cfg.TrustLookup)
	mgr, err := New(p.Identity.ID(), p.Transport, p.Signaling, gater, p.Clock, p.Metrics, p.EventBus, cfg)
	if err != nil {
		return Result{}, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return mgr.Start(ctx)
		},
		OnStop: func(context.Context) error {
			return mgr.Close()
		},
	})
	return Result{Manager: mgr, ConnectionManager: mgr}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("connmgr",
		fx.Provide(ProvideManager),
	)
}
