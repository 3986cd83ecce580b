package eventbus

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Result fx 模块输出
type Result struct {
	fx.Out

	Bus      *Bus
	EventBus interfaces.EventBus
}

// ProvideEventBus 提供事件总线实例
func ProvideEventBus() Result {
	bus := NewBus()
	return Result{Bus: bus, EventBus: bus}
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("eventbus",
		fx.Provide(ProvideEventBus),
	)
}
