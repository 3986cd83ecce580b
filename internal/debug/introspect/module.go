package introspect

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Module 返回自省服务 Fx 模块
func Module() fx.Option {
	return fx.Module("introspect",
		fx.Provide(NewFromParams),
		fx.Invoke(registerLifecycle),
	)
}

// IntrospectParams 自省服务依赖参数
type IntrospectParams struct {
	fx.In

	UnifiedCfg *config.Config
	Identity   interfaces.LocalIdentity     `optional:"true"`
	Conns      interfaces.ConnectionManager `optional:"true"`
	Presence   interfaces.PresenceTracker   `optional:"true"`
	Metrics    *metrics.Metrics             `optional:"true"`
}

// IntrospectOutput 自省服务输出
type IntrospectOutput struct {
	fx.Out

	Server *Server
}

// ConfigFromUnified 从统一配置创建自省服务配置，未配置地址时返回 nil
func ConfigFromUnified(cfg *config.Config) *Config {
	if cfg == nil || cfg.Diagnostics.IntrospectAddr == "" {
		return nil
	}
	return &Config{Addr: cfg.Diagnostics.IntrospectAddr}
}

// NewFromParams 从参数创建自省服务，禁用时输出 nil
func NewFromParams(params IntrospectParams) IntrospectOutput {
	cfg := ConfigFromUnified(params.UnifiedCfg)
	if cfg == nil {
		return IntrospectOutput{}
	}

	cfg.Identity = params.Identity
	cfg.Conns = params.Conns
	cfg.Presence = params.Presence
	if params.Metrics != nil {
		cfg.Metrics = params.Metrics.Handler()
	}
	return IntrospectOutput{Server: New(*cfg)}
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, server *Server) {
	if server == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return server.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return server.Stop()
		},
	})
}
