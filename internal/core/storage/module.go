package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// Backend 存储后端构造器
//
// 后端包依赖本包，具体构造函数由根包注入以避免循环导入。
type Backend func(ctx context.Context, cfg config.StoreConfig) (interfaces.TrustStore, error)

// Params 模块依赖参数
type Params struct {
	fx.In

	Config   *config.Config
	Backends map[config.StoreBackend]Backend

	// Preset 外部注入的存储（多个会话共享同一内存存储），生命周期由调用方管理
	Preset interfaces.TrustStore `name:"preset_store" optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Store interfaces.TrustStore
}

// ProvideStore 按配置创建信任存储
func ProvideStore(lc fx.Lifecycle, p Params) (Result, error) {
	if p.Preset != nil {
		return Result{Store: p.Preset}, nil
	}

	cfg := p.Config.Store
	build, ok := p.Backends[cfg.Backend]
	if !ok {
		return Result{}, fmt.Errorf("storage: backend %q not registered", cfg.Backend)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := build(ctx, cfg)
	if err != nil {
		return Result{}, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if s, ok := store.(interface{ Start() }); ok {
				s.Start()
			}
			logger.Info("信任存储已就绪", "backend", string(cfg.Backend))
			return nil
		},
		OnStop: func(context.Context) error {
			if c, ok := store.(io.Closer); ok {
				if err := c.Close(); err != nil {
					logger.Warn("关闭信任存储失败", "error", err)
					return err
				}
			}
			return nil
		},
	})
	return Result{Store: store}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStore),
	)
}
