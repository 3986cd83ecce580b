package trustlink

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/pkg/lib/log"

	// Core Layer
	"github.com/dep2p/go-trustlink/internal/core/connmgr"
	"github.com/dep2p/go-trustlink/internal/core/crypto"
	"github.com/dep2p/go-trustlink/internal/core/eventbus"
	"github.com/dep2p/go-trustlink/internal/core/identity"
	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/internal/core/storage"
	"github.com/dep2p/go-trustlink/internal/core/storage/badger"
	"github.com/dep2p/go-trustlink/internal/core/storage/memory"
	"github.com/dep2p/go-trustlink/internal/core/storage/relay"
	"github.com/dep2p/go-trustlink/internal/core/transport"
	"github.com/dep2p/go-trustlink/internal/debug/introspect"

	// Protocol Layer
	"github.com/dep2p/go-trustlink/internal/protocol/invite"
	"github.com/dep2p/go-trustlink/internal/protocol/presence"
	"github.com/dep2p/go-trustlink/internal/protocol/signaling"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

var fxLogger = log.Logger("trustlink/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Core Layer: Identity → Crypto → EventBus → Metrics → Storage → Transport
//  2. Protocol Layer: Invite → Signaling
//  3. ConnMgr（启动信令）→ Presence（依赖连接广播）
//  4. Introspect 诊断服务
func buildFxApp(o *options, cfg *config.Config, s *Session) *fx.App {
	modules := []fx.Option{
		// 配置与时钟注入
		fx.Supply(cfg),
		fx.Provide(func() clock.Clock { return o.clock }),
		fx.Provide(provideBackends(o.clock)),

		identity.Module(),
		crypto.Module(),
		eventbus.Module(),
		metrics.Module(),
		storage.Module(),
		transport.Module(),

		invite.Module(),
		signaling.Module(),
		connmgr.Module(),
		presence.Module(),

		// 诊断（未配置地址时不启动）
		introspect.Module(),
	}

	// 注入的组件以命名值提供，对应模块的可选参数
	if o.identity != nil {
		id := o.identity
		modules = append(modules, fx.Provide(fx.Annotated{
			Name:   "preset_identity",
			Target: func() interfaces.LocalIdentity { return id },
		}))
	}
	if o.store != nil {
		store := o.store
		modules = append(modules, fx.Provide(fx.Annotated{
			Name:   "preset_store",
			Target: func() interfaces.TrustStore { return store },
		}))
	}
	if o.transport != nil {
		tr := o.transport
		modules = append(modules, fx.Provide(fx.Annotated{
			Name:   "preset_transport",
			Target: func() interfaces.Transport { return tr },
		}))
	}

	if len(o.fxOptions) > 0 {
		modules = append(modules, o.fxOptions...)
	}

	modules = append(modules,
		fx.Invoke(injectSessionComponents(s)),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	fxLogger.Debug("构建 Fx 应用", "store", string(cfg.Store.Backend), "presetStore", o.store != nil)
	return fx.New(modules...)
}

// provideBackends 注册信任存储后端
//
// 后端包依赖 storage 包，构造函数在根包汇总以避免循环导入。
func provideBackends(clk clock.Clock) func() map[config.StoreBackend]storage.Backend {
	return func() map[config.StoreBackend]storage.Backend {
		return map[config.StoreBackend]storage.Backend{
			config.StoreMemory: func(context.Context, config.StoreConfig) (interfaces.TrustStore, error) {
				return memory.New(memory.WithClock(clk)), nil
			},
			config.StoreBadger: func(_ context.Context, c config.StoreConfig) (interfaces.TrustStore, error) {
				store, err := badger.Open(badger.Config{
					Path:       c.DBPath(),
					GCInterval: c.GCInterval.Duration(),
				})
				if err != nil {
					return nil, err
				}
				return store, nil
			},
			config.StoreRelay: func(ctx context.Context, c config.StoreConfig) (interfaces.TrustStore, error) {
				client, err := relay.Dial(ctx, c.RelayURL, relay.DialOptions{})
				if err != nil {
					return nil, err
				}
				return client, nil
			},
		}
	}
}

// sessionInjectParams 会话需要的组件
type sessionInjectParams struct {
	fx.In

	Identity interfaces.LocalIdentity
	EventBus interfaces.EventBus
	Store    interfaces.TrustStore
	Invite   *invite.Service
	Conns    *connmgr.Manager
	Presence *presence.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

// injectSessionComponents 返回将组件注入 Session 的 Invoke 函数
func injectSessionComponents(s *Session) interface{} {
	return func(p sessionInjectParams) {
		s.identity = p.Identity
		s.bus = p.EventBus
		s.store = p.Store
		s.invite = p.Invite
		s.conns = p.Conns
		s.presence = p.Presence
		s.metrics = p.Metrics
	}
}
