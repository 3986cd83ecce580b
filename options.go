package trustlink

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/identity"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 基础配置（WithConfig / WithConfigFile），为空时使用默认配置
	config *config.Config

	// 身份配置
	identity     interfaces.LocalIdentity
	identityFile string
	nickname     string

	// 存储配置
	store    interfaces.TrustStore
	relayURL string
	dataDir  string

	// 诊断服务监听地址
	introspectAddr string

	// 注入的传输层（测试使用回环网络）
	transport interfaces.Transport

	clock clock.Clock

	// 用户自定义 fx 选项
	fxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{clock: clock.New()}
}

// toConfig 合并为最终配置
//
// 显式选项覆盖配置文件中的对应字段。
func (o *options) toConfig() (*config.Config, error) {
	cfg := o.config
	if cfg == nil {
		cfg = config.NewConfig()
	} else {
		copied := *cfg
		cfg = &copied
	}

	if o.identityFile != "" {
		cfg.Identity.KeyFile = o.identityFile
	}
	if o.nickname != "" {
		cfg.Identity.Nickname = o.nickname
	}
	switch {
	case o.relayURL != "":
		cfg.Store.Backend = config.StoreRelay
		cfg.Store.RelayURL = o.relayURL
	case o.dataDir != "":
		cfg.Store.Backend = config.StoreBadger
		cfg.Store.DataDir = o.dataDir
	}

	if o.introspectAddr != "" {
		cfg.Diagnostics.IntrospectAddr = o.introspectAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置选项
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整配置
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return ErrNilOption
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithIdentity 使用已有身份，优先于密钥文件
func WithIdentity(id interfaces.LocalIdentity) Option {
	return func(o *options) error {
		if id == nil {
			return ErrNilOption
		}
		o.identity = id
		return nil
	}
}

// WithIdentityFile 从 PEM 密钥文件加载身份，文件不存在时创建
func WithIdentityFile(path string) Option {
	return func(o *options) error {
		o.identityFile = path
		return nil
	}
}

// WithNickname 设置昵称，写入签发的邀请
func WithNickname(nickname string) Option {
	return func(o *options) error {
		o.nickname = nickname
		return nil
	}
}

// WithStore 使用外部信任存储
//
// 存储的生命周期由调用方管理，会话关闭时不会关闭它。
func WithStore(store interfaces.TrustStore) Option {
	return func(o *options) error {
		if store == nil {
			return ErrNilOption
		}
		o.store = store
		return nil
	}
}

// WithRelay 通过 websocket 中继共享信任存储
func WithRelay(url string) Option {
	return func(o *options) error {
		o.relayURL = url
		return nil
	}
}

// WithDataDir 使用本地 BadgerDB 持久化信任存储
func WithDataDir(dir string) Option {
	return func(o *options) error {
		o.dataDir = dir
		return nil
	}
}

// WithIntrospectAddr 启用诊断服务（/debug/introspect、pprof、/metrics）
func WithIntrospectAddr(addr string) Option {
	return func(o *options) error {
		o.introspectAddr = addr
		return nil
	}
}

// WithTransport 使用外部传输层替代默认的 WebRTC
func WithTransport(t interfaces.Transport) Option {
	return func(o *options) error {
		if t == nil {
			return ErrNilOption
		}
		o.transport = t
		return nil
	}
}

// WithClock 注入时钟（测试使用 clock.NewMock）
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		if c == nil {
			return ErrNilOption
		}
		o.clock = c
		return nil
	}
}

// WithFxOption 追加自定义 fx 选项
func WithFxOption(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}

// GenerateIdentity 生成新的临时身份，配合 WithIdentity 使用
func GenerateIdentity(nickname string) (interfaces.LocalIdentity, error) {
	id, err := identity.Generate(nickname)
	if err != nil {
		return nil, err
	}
	return id, nil
}
