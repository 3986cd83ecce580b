package invite

import (
	"time"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/util/retry"
)

// Option 定义配置选项函数
type Option func(*Config)

// Config 邀请协议配置
type Config struct {
	// DefaultTTL 邀请默认有效期
	DefaultTTL time.Duration

	// RateLimit 每个签发者在 RateWindow 内最多签发的邀请数
	RateLimit int

	// RateWindow 速率限制窗口
	RateWindow time.Duration

	// Lookup 接受邀请时的查找重试策略
	Lookup retry.Policy

	// SignaturePolicy 签名无效时拒绝或仅告警
	SignaturePolicy config.SignaturePolicy

	// LinkBaseURL 邀请链接基础地址
	LinkBaseURL string
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return ConfigFromUnified(config.DefaultInviteConfig())
}

// ConfigFromUnified 从统一配置创建邀请配置
func ConfigFromUnified(c config.InviteConfig) *Config {
	return &Config{
		DefaultTTL: c.DefaultTTL.Duration(),
		RateLimit:  c.RateLimit,
		RateWindow: c.RateWindow.Duration(),
		Lookup: retry.Policy{
			Attempts: c.LookupAttempts,
			Initial:  c.LookupInitialBackoff.Duration(),
			Max:      c.LookupMaxBackoff.Duration(),
		},
		SignaturePolicy: c.SignaturePolicy,
		LinkBaseURL:     c.LinkBaseURL,
	}
}

// WithDefaultTTL 设置默认有效期
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.DefaultTTL = ttl
	}
}

// WithRateLimit 设置速率限制
func WithRateLimit(n int, window time.Duration) Option {
	return func(c *Config) {
		c.RateLimit = n
		c.RateWindow = window
	}
}

// WithLookupPolicy 设置查找重试策略
func WithLookupPolicy(p retry.Policy) Option {
	return func(c *Config) {
		c.Lookup = p
	}
}

// WithSignaturePolicy 设置签名校验策略
func WithSignaturePolicy(p config.SignaturePolicy) Option {
	return func(c *Config) {
		c.SignaturePolicy = p
	}
}
