package transport

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/transport/webrtc"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
)

var logger = log.Logger("core/transport")

// Params 模块依赖参数
type Params struct {
	fx.In

	Config *config.Config
	Preset interfaces.Transport `name:"preset_transport" optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Transport interfaces.Transport
}

// ProvideTransport 提供传输层
func ProvideTransport(p Params) (Result, error) {
	if p.Preset != nil {
		logger.Debug("使用注入的传输层")
		return Result{Transport: p.Preset}, nil
	}
	t, err := webrtc.New(p.Config.Transport)
	if err != nil {
		return Result{}, err
	}
	logger.Debug("使用 WebRTC 传输层", "iceServers", len(p.Config.Transport.ICEServers))
	return Result{Transport: t}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(ProvideTransport),
	)
}
