package crypto

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("crypto",
		fx.Provide(
			fx.Annotate(NewService, fx.As(new(interfaces.CryptoService))),
		),
	)
}
