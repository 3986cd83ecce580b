package signaling

import (
	"time"

	"github.com/dep2p/go-trustlink/config"
)

// Option 定义配置选项函数
type Option func(*Config)

// Config 信令邮箱配置
type Config struct {
	// TTL 信令有效期
	TTL time.Duration

	// SealPayloads 已知对端加密公钥时加密载荷
	SealPayloads bool

	// DedupCacheSize 已处理 nonce 缓存大小
	DedupCacheSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return ConfigFromUnified(config.DefaultSignalingConfig())
}

// ConfigFromUnified 从统一配置创建信令配置
func ConfigFromUnified(c config.SignalingConfig) *Config {
	return &Config{
		TTL:            c.TTL.Duration(),
		SealPayloads:   c.SealPayloads,
		DedupCacheSize: c.DedupCacheSize,
	}
}

// WithTTL 设置信令有效期
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

// WithSealing 设置是否加密载荷
func WithSealing(on bool) Option {
	return func(c *Config) {
		c.SealPayloads = on
	}
}
