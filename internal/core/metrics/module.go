package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/config"
)

// Params 模块依赖参数
type Params struct {
	fx.In

	Config *config.Config
}

// ProvideMetrics 按配置创建指标集合，禁用时返回 nil
func ProvideMetrics(p Params) *Metrics {
	if !p.Config.Metrics.Enabled {
		return nil
	}
	return New(p.Config.Metrics.Namespace)
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideMetrics),
	)
}
